package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/creack/pty"
)

// Process is one child process bound to a pseudo-terminal.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	opts Options

	readOnce sync.Once
	readDone chan struct{}

	waitOnce sync.Once
	exitCode int
	waitErr  error

	termOnce sync.Once
	exited   chan struct{}
}

// Execute starts command under opts.Shell -c with a fresh pseudo-terminal.
// Spawn problems (missing shell, bad directory, pty allocation) are returned
// as *SpawnError before any output is read.
func Execute(command string, env []string, dir string, opts Options) (*Process, error) {
	opts = opts.withDefaults()

	if _, err := exec.LookPath(opts.Shell); err != nil {
		return nil, NewSpawnError(command, err)
	}
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, NewSpawnError(command, err)
		}
		if !info.IsDir() {
			return nil, NewSpawnError(command, fmt.Errorf("%s is not a directory", dir))
		}
	}

	cmd := exec.Command(opts.Shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM="+opts.Term)
	cmd.Env = append(cmd.Env, env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, NewSpawnError(command, fmt.Errorf("start pty: %w", err))
	}

	return &Process{
		cmd:      cmd,
		ptmx:     ptmx,
		opts:     opts,
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// OnOutput starts delivering output to fn. Output produced before the first
// call stays in the terminal buffer, so nothing is lost.
func (p *Process) OnOutput(fn func(ports.Chunk)) {
	p.readOnce.Do(func() { go p.readLoop(fn) })
}

// readLoop forwards decoded chunks in the order the child produced them.
// Incomplete UTF-8 sequences are carried over to the next read.
func (p *Process) readLoop(fn func(ports.Chunk)) {
	defer close(p.readDone)

	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := validPrefix(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 && fn != nil {
				fn(ports.Chunk{Text: string(data[:cut])})
			}
		}
		if err != nil {
			// EIO is how Linux reports the slave side closing.
			if len(carry) > 0 && fn != nil {
				fn(ports.Chunk{Text: string(carry)})
			}
			return
		}
	}
}

// validPrefix returns the length of data without a trailing partial rune.
func validPrefix(data []byte) int {
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

// Write sends input to the child, giving up after the write timeout.
func (p *Process) Write(b []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := p.ptmx.Write(b)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(p.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.n, r.err
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

// Resize resizes the PTY window.
func (p *Process) Resize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Wait blocks until the child exits and its output has been drained, then
// returns the exit code: the child's status, 128+signal when it was killed,
// or SentinelExitCode when the status is unknown.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		p.readOnce.Do(func() { go p.readLoop(nil) })

		err := p.cmd.Wait()
		close(p.exited)

		// A background grandchild can hold the terminal open forever.
		select {
		case <-p.readDone:
		case <-time.After(p.opts.DrainTimeout):
		}
		_ = p.ptmx.Close()

		p.exitCode, p.waitErr = exitCodeFrom(err)
	})
	return p.exitCode, p.waitErr
}

func exitCodeFrom(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal()), nil
			}
			return status.ExitStatus(), nil
		}
		return exitErr.ExitCode(), nil
	}

	return SentinelExitCode, fmt.Errorf("wait: %w", err)
}

// Interrupt sends SIGINT to the child's process group.
func (p *Process) Interrupt() error {
	return p.signalGroup(syscall.SIGINT)
}

// Terminate kills the child's process group. Only the first call signals.
func (p *Process) Terminate() error {
	var err error
	p.termOnce.Do(func() {
		err = p.signalGroup(syscall.SIGKILL)
	})
	return err
}

func (p *Process) signalGroup(sig syscall.Signal) error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	// The child is a session leader (Setsid), so its pgid is its pid.
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %s: %w", sig, err)
	}
	return nil
}

var _ ports.Process = (*Process)(nil)
