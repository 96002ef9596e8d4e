// Package fakepty provides a scripted ports.Process for testing session logic
// without real terminals.
package fakepty

import (
	"bytes"
	"io"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
)

// KilledExitCode is what Wait returns after Terminate on a live process.
const KilledExitCode = 137

// Process is a fake child process. Output is pushed with Emit and the exit is
// triggered with Exit; everything written to it is captured.
type Process struct {
	mu         sync.Mutex
	callback   func(ports.Chunk)
	queued     []ports.Chunk
	writes     []string
	written    bytes.Buffer
	writeErr   error
	onWrite    func(string)
	interrupts int
	terminated bool
	exited     bool
	exitCode   int
	done       chan struct{}
	exitOnInt  bool
}

// New creates a new fake process.
func New() *Process {
	return &Process{done: make(chan struct{})}
}

// ExitOnInterrupt makes Interrupt end the process with code 130.
func (p *Process) ExitOnInterrupt() *Process {
	p.mu.Lock()
	p.exitOnInt = true
	p.mu.Unlock()
	return p
}

// SetWriteError makes every following Write fail with err.
func (p *Process) SetWriteError(err error) *Process {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
	return p
}

// OnWrite installs a hook that sees every successful write, e.g. to script
// replies with Emit.
func (p *Process) OnWrite(fn func(string)) *Process {
	p.mu.Lock()
	p.onWrite = fn
	p.mu.Unlock()
	return p
}

// Emit delivers a stdout chunk, or queues it until OnOutput is called.
func (p *Process) Emit(text string) {
	p.deliver(ports.Chunk{Text: text})
}

// EmitStderr delivers a stderr chunk.
func (p *Process) EmitStderr(text string) {
	p.deliver(ports.Chunk{Text: text, Stderr: true})
}

func (p *Process) deliver(c ports.Chunk) {
	p.mu.Lock()
	fn := p.callback
	if fn == nil {
		p.queued = append(p.queued, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(c)
}

// Exit ends the process; Wait returns code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked(code)
}

func (p *Process) exitLocked(code int) {
	if p.exited {
		return
	}
	p.exited = true
	p.exitCode = code
	close(p.done)
}

// Write captures input.
func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	if p.exited {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, string(b))
	p.written.Write(b)
	hook := p.onWrite
	p.mu.Unlock()

	if hook != nil {
		hook(string(b))
	}
	return len(b), nil
}

// OnOutput registers the callback and flushes queued chunks to it.
func (p *Process) OnOutput(fn func(ports.Chunk)) {
	p.mu.Lock()
	if p.callback != nil {
		p.mu.Unlock()
		return
	}
	p.callback = fn
	queued := p.queued
	p.queued = nil
	p.mu.Unlock()

	for _, c := range queued {
		fn(c)
	}
}

// Wait blocks until Exit or Terminate.
func (p *Process) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

// Interrupt records the signal.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupts++
	if p.exitOnInt {
		p.exitLocked(130)
	}
	return nil
}

// Terminate kills the process if it is still running.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.exitLocked(KilledExitCode)
	return nil
}

// --- Test inspection methods ---

// Writes returns each Write call's payload in order.
func (p *Process) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// Written returns everything written, concatenated.
func (p *Process) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Interrupts returns how many times Interrupt was called.
func (p *Process) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

// Terminated reports whether Terminate was called.
func (p *Process) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Exited reports whether the process has ended.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

var _ ports.Process = (*Process)(nil)
