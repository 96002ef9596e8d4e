package engine

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/pty"
)

func newTestEngine(t *testing.T) *Local {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return NewLocal(pty.Options{Shell: "/bin/sh", WriteTimeout: time.Second, DrainTimeout: time.Second})
}

type captured struct {
	mu     sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
}

func (c *captured) add(ch ports.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.Stderr {
		c.stderr.WriteString(ch.Text)
	} else {
		c.stdout.WriteString(ch.Text)
	}
}

func TestLocal_ExecuteSeparatesStreams(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.Execute("echo out; echo err >&2; exit 2", nil, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var c captured
	p.OnOutput(c.add)

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if got := c.stdout.String(); got != "out\n" {
		t.Errorf("stdout = %q, want %q", got, "out\n")
	}
	if got := c.stderr.String(); got != "err\n" {
		t.Errorf("stderr = %q, want %q", got, "err\n")
	}
}

func TestLocal_ExecuteWrite(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.Execute("read line; echo got-$line", nil, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var c captured
	p.OnOutput(c.add)
	if _, err := p.Write([]byte("hi\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if code, _ := p.Wait(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if got := c.stdout.String(); got != "got-hi\n" {
		t.Errorf("stdout = %q, want %q", got, "got-hi\n")
	}
}

func TestLocal_ExecuteMissingDirectory(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Execute("ls", nil, "/nonexistent/dir/for/test")

	var spawnErr *pty.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("err = %v, want *pty.SpawnError", err)
	}
	if spawnErr.ExitCode() != 127 {
		t.Errorf("ExitCode() = %d, want 127", spawnErr.ExitCode())
	}
	if e.Running() {
		t.Error("Running() = true after failed spawn")
	}
}

func TestLocal_Running(t *testing.T) {
	e := newTestEngine(t)

	if e.Running() {
		t.Fatal("Running() = true before any spawn")
	}

	p, err := e.Execute("sleep 30", nil, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !e.Running() {
		t.Error("Running() = false with a live process")
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	code, _ := p.Wait()
	if code != 137 {
		t.Errorf("exit code = %d, want 137", code)
	}
	if e.Running() {
		t.Error("Running() = true after Wait returned")
	}
}

func TestLocal_ExecuteWaitBoundedByDrain(t *testing.T) {
	e := newTestEngine(t)

	// The background sleep inherits stdout and keeps it open after exit.
	p, err := e.Execute("echo start; sleep 5 & exit 0", nil, "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var c captured
	p.OnOutput(c.add)

	begin := time.Now()
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Errorf("Wait took %v, want it bounded by the drain timeout", elapsed)
	}
	c.mu.Lock()
	got := c.stdout.String()
	c.mu.Unlock()
	if got != "start\n" {
		t.Errorf("stdout = %q, want %q", got, "start\n")
	}
}

func TestLocal_ExecutePTY(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.ExecutePTY("echo tty-ok", nil, "")
	if err != nil {
		t.Fatalf("ExecutePTY: %v", err)
	}

	var c captured
	p.OnOutput(c.add)

	if code, _ := p.Wait(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(c.stdout.String(), "tty-ok") {
		t.Errorf("output = %q, want tty-ok", c.stdout.String())
	}
	if e.Running() {
		t.Error("Running() = true after Wait returned")
	}
}

func TestCompleteRunes(t *testing.T) {
	b := []byte("ok é")
	if got := completeRunes(b[:len(b)-1]); got != len(b)-2 {
		t.Errorf("completeRunes(partial) = %d, want %d", got, len(b)-2)
	}
	if got := completeRunes(b); got != len(b) {
		t.Errorf("completeRunes(full) = %d, want %d", got, len(b))
	}
}
