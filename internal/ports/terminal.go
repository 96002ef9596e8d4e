package ports

// Chunk is a piece of decoded child output. It is not line aligned.
type Chunk struct {
	Text   string
	Stderr bool
}

// Process is a running child process with a live output stream.
type Process interface {
	// Write sends input to the child. It never blocks longer than the
	// implementation's write timeout.
	Write(p []byte) (int, error)

	// OnOutput registers the output callback. Chunks produced before the
	// callback is registered are held until it is. Only the first call counts.
	OnOutput(fn func(Chunk))

	// Wait blocks until the child exits and all output has been delivered,
	// then returns its exit code.
	Wait() (int, error)

	// Interrupt delivers SIGINT. Safe to call repeatedly.
	Interrupt() error

	// Terminate kills the child. Safe to call repeatedly.
	Terminate() error
}

// TerminalEngine spawns child processes for the session.
type TerminalEngine interface {
	// Execute runs command with plain pipes (stdout and stderr kept apart).
	Execute(command string, env []string, dir string) (Process, error)

	// ExecutePTY runs command bound to a pseudo-terminal.
	ExecutePTY(command string, env []string, dir string) (Process, error)

	// Running reports whether any spawned process is still alive.
	Running() bool
}
