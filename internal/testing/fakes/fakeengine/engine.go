// Package fakeengine provides a scripted TerminalEngine for testing.
package fakeengine

import (
	"sync"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/testing/fakes/fakepty"
)

// Spawn records one Execute or ExecutePTY call.
type Spawn struct {
	Command string
	Env     []string
	Dir     string
	PTY     bool
	Process *fakepty.Process
}

// Engine hands out fake processes. By default every spawn gets a fresh
// fakepty.Process; Fail and Next override that for the next call.
type Engine struct {
	mu      sync.Mutex
	spawns  []Spawn
	next    []*fakepty.Process
	failErr error
	notify  chan Spawn
}

// New creates a fake engine.
func New() *Engine {
	return &Engine{notify: make(chan Spawn, 64)}
}

// Next queues p to be returned by the next spawn.
func (e *Engine) Next(p *fakepty.Process) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next = append(e.next, p)
	return e
}

// Fail makes the next spawn return err.
func (e *Engine) Fail(err error) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
	return e
}

// Execute implements ports.TerminalEngine.
func (e *Engine) Execute(command string, env []string, dir string) (ports.Process, error) {
	return e.spawn(command, env, dir, false)
}

// ExecutePTY implements ports.TerminalEngine.
func (e *Engine) ExecutePTY(command string, env []string, dir string) (ports.Process, error) {
	return e.spawn(command, env, dir, true)
}

func (e *Engine) spawn(command string, env []string, dir string, pty bool) (ports.Process, error) {
	e.mu.Lock()
	if e.failErr != nil {
		err := e.failErr
		e.failErr = nil
		e.mu.Unlock()
		return nil, err
	}

	var p *fakepty.Process
	if len(e.next) > 0 {
		p = e.next[0]
		e.next = e.next[1:]
	} else {
		p = fakepty.New()
	}
	s := Spawn{Command: command, Env: env, Dir: dir, PTY: pty, Process: p}
	e.spawns = append(e.spawns, s)
	e.mu.Unlock()

	select {
	case e.notify <- s:
	default:
	}
	return p, nil
}

// Running reports whether any spawned process has not exited.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.spawns {
		if !s.Process.Exited() {
			return true
		}
	}
	return false
}

// Spawns returns every spawn so far.
func (e *Engine) Spawns() []Spawn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Spawn(nil), e.spawns...)
}

// Spawned delivers each spawn as it happens.
func (e *Engine) Spawned() <-chan Spawn {
	return e.notify
}

var _ ports.TerminalEngine = (*Engine)(nil)
