//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/session"
	"github.com/acolita/blockterm/internal/transfer"
)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Shell.Path = "/bin/sh"
	cfg.Engine.RefreshInterval = 0
	mgr := session.NewManager(cfg, session.Options{})
	t.Cleanup(mgr.CloseAll)

	sess, err := mgr.Create(session.CreateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return sess
}

func run(t *testing.T, sess *session.Session, command string) block.Block {
	t.Helper()
	b, err := sess.Dispatch(command)
	if err != nil {
		t.Fatalf("Dispatch(%q) error = %v", command, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err = sess.Wait(ctx, b.ID)
	if err != nil {
		t.Fatalf("Wait(%q) error = %v", command, err)
	}
	t.Logf("%s -> %s exit=%v\n%s", command, b.Status, *b.ExitCode, b.Text())
	return b
}

func TestLocalSessionBasic(t *testing.T) {
	sess := newSession(t)

	b := run(t, sess, "echo 'hello world'")
	if b.Status != block.StatusSuccess || !strings.Contains(b.Text(), "hello world") {
		t.Errorf("echo block = %+v", b)
	}

	b = run(t, sess, "sh -c 'echo oops >&2; exit 3'")
	if b.Status != block.StatusError || *b.ExitCode != 3 {
		t.Errorf("exit 3 block = %+v", b)
	}
	found := false
	for _, l := range b.Output {
		if l.IsError && l.Text == "oops" {
			found = true
		}
	}
	if !found {
		t.Errorf("stderr line missing from %+v", b.Output)
	}
}

func TestLocalSessionCD(t *testing.T) {
	sess := newSession(t)
	base := sess.Context().Dir
	if err := os.Mkdir(filepath.Join(base, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	run(t, sess, "cd sub")
	if got, want := sess.Context().Dir, filepath.Join(base, "sub"); got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}

	b := run(t, sess, "pwd")
	if !strings.Contains(b.Text(), "sub") {
		t.Errorf("pwd output = %q, want sub", b.Text())
	}
}

func TestLocalSessionInteractive(t *testing.T) {
	sess := newSession(t)

	b, err := sess.Dispatch("python3 -c 'print(input(\"name? \"))'")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	if _, err := sess.Dispatch("blockterm"); err != nil {
		t.Fatalf("send input: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err = sess.Wait(ctx, b.ID)
	if err != nil {
		t.Skipf("python3 unavailable or hung: %v", err)
	}
	if !strings.Contains(b.Text(), "blockterm") {
		t.Errorf("output = %q, want echoed name", b.Text())
	}
}

func TestLocalSessionInterrupt(t *testing.T) {
	sess := newSession(t)

	b, err := sess.Dispatch("sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := sess.Interrupt(); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err = sess.Wait(ctx, b.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if b.Status != block.StatusError {
		t.Errorf("Status = %s, want error after interrupt", b.Status)
	}
}

func TestLocalTransferRejectsLocalPair(t *testing.T) {
	sess := newSession(t)
	if _, err := sess.StartTransfer(transfer.Upload, "a.txt", "b.txt"); err == nil {
		t.Error("StartTransfer() with no remote operand succeeded")
	}
}
