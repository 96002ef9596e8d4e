// Package engine spawns session commands on the local machine, either with
// plain pipes or bound to a pseudo-terminal.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/pty"
)

// Local is a TerminalEngine backed by local child processes.
type Local struct {
	opts    pty.Options
	running atomic.Int32
}

// NewLocal creates a local engine. Zero fields in opts take pty defaults.
func NewLocal(opts pty.Options) *Local {
	return &Local{opts: opts}
}

// ExecutePTY runs command bound to a fresh pseudo-terminal.
func (l *Local) ExecutePTY(command string, env []string, dir string) (ports.Process, error) {
	p, err := pty.Execute(command, env, dir, l.opts)
	if err != nil {
		return nil, err
	}
	slog.Debug("spawned pty process",
		slog.String("command", command),
		slog.Int("pid", p.Pid()),
	)
	return l.track(p), nil
}

// Execute runs command with separate stdout and stderr pipes.
func (l *Local) Execute(command string, env []string, dir string) (ports.Process, error) {
	opts := l.opts
	if opts.Shell == "" {
		opts.Shell = pty.DefaultOptions().Shell
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = pty.DefaultOptions().WriteTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = pty.DefaultOptions().DrainTimeout
	}

	if _, err := exec.LookPath(opts.Shell); err != nil {
		return nil, pty.NewSpawnError(command, err)
	}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, pty.NewSpawnError(command, err)
		}
		if !info.IsDir() {
			return nil, pty.NewSpawnError(command, fmt.Errorf("%s is not a directory", dir))
		}
	}

	cmd := exec.Command(opts.Shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pty.NewSpawnError(command, fmt.Errorf("stdin pipe: %w", err))
	}
	// Plain files, so cmd.Wait returns at exit without waiting on readers.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, pty.NewSpawnError(command, fmt.Errorf("stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, pty.NewSpawnError(command, fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, pty.NewSpawnError(command, err)
	}

	p := &pipeProcess{
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdoutR,
		stderr:       stderrR,
		writeTimeout: opts.WriteTimeout,
		drainTimeout: opts.DrainTimeout,
		exited:       make(chan struct{}),
	}
	slog.Debug("spawned piped process",
		slog.String("command", command),
		slog.Int("pid", cmd.Process.Pid),
	)
	return l.track(p), nil
}

// Running reports whether any process spawned by this engine is alive.
func (l *Local) Running() bool {
	return l.running.Load() > 0
}

func (l *Local) track(p ports.Process) ports.Process {
	l.running.Add(1)
	return &trackedProcess{Process: p, engine: l}
}

// trackedProcess decrements the engine's running count once Wait returns.
type trackedProcess struct {
	ports.Process
	engine *Local
	once   sync.Once
}

func (t *trackedProcess) Wait() (int, error) {
	code, err := t.Process.Wait()
	t.once.Do(func() { t.engine.running.Add(-1) })
	return code, err
}

// pipeProcess is a child with plain stdin/stdout/stderr pipes.
type pipeProcess struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	stderr       io.ReadCloser
	writeTimeout time.Duration
	drainTimeout time.Duration

	readOnce sync.Once
	readers  sync.WaitGroup

	waitOnce sync.Once
	exitCode int
	waitErr  error

	termOnce sync.Once
	exited   chan struct{}
}

func (p *pipeProcess) OnOutput(fn func(ports.Chunk)) {
	p.readOnce.Do(func() {
		// Chunks from the two streams must not interleave inside fn.
		var mu sync.Mutex
		emit := func(c ports.Chunk) {
			if fn == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fn(c)
		}
		p.readers.Add(2)
		go p.readStream(p.stdout, false, emit)
		go p.readStream(p.stderr, true, emit)
	})
}

func (p *pipeProcess) readStream(r io.Reader, isStderr bool, emit func(ports.Chunk)) {
	defer p.readers.Done()

	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completeRunes(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				emit(ports.Chunk{Text: string(data[:cut]), Stderr: isStderr})
			}
		}
		if err != nil {
			if len(carry) > 0 {
				emit(ports.Chunk{Text: string(carry), Stderr: isStderr})
			}
			return
		}
	}
}

// completeRunes returns the length of data without a trailing partial rune.
func completeRunes(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			break
		}
	}
	return len(data)
}

func (p *pipeProcess) Write(b []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := p.stdin.Write(b)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(p.writeTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.n, r.err
	case <-timer.C:
		return 0, pty.ErrWriteTimeout
	}
}

// Wait blocks until the child exits, then keeps reading for up to the drain
// timeout. A background grandchild can hold the pipes open forever.
func (p *pipeProcess) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.OnOutput(nil)
		err := p.cmd.Wait()
		close(p.exited)

		drained := make(chan struct{})
		go func() {
			p.readers.Wait()
			close(drained)
		}()
		timer := time.NewTimer(p.drainTimeout)
		select {
		case <-drained:
		case <-timer.C:
			slog.Debug("output drain timed out", slog.Int("pid", p.cmd.Process.Pid))
		}
		timer.Stop()

		_ = p.stdout.Close()
		_ = p.stderr.Close()
		_ = p.stdin.Close()
		p.exitCode, p.waitErr = exitCode(err)
	})
	return p.exitCode, p.waitErr
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return pty.SentinelExitCode, fmt.Errorf("wait: %w", err)
}

func (p *pipeProcess) Interrupt() error {
	return p.signal(syscall.SIGINT)
}

func (p *pipeProcess) Terminate() error {
	var err error
	p.termOnce.Do(func() { err = p.signal(syscall.SIGKILL) })
	return err
}

func (p *pipeProcess) signal(sig syscall.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %s: %w", sig, err)
	}
	return nil
}

var _ ports.TerminalEngine = (*Local)(nil)
