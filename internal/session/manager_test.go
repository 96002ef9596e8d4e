package session

import (
	"errors"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeclock"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeengine"
	"github.com/acolita/blockterm/internal/testing/fakes/fakefs"
)

func newTestManager(t *testing.T) (*Manager, *fakeclock.Clock) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.RefreshInterval = 0

	clock := fakeclock.New(t0)
	fs := fakefs.New()
	fs.AddDir("/home/test")
	fs.AddDir("/srv")

	m := NewManager(cfg, Options{
		Engine: fakeengine.New(),
		Clock:  clock,
		FS:     fs,
	})
	t.Cleanup(m.CloseAll)
	return m, clock
}

func TestManager_CreateGetClose(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create(CreateOptions{Dir: "/srv"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID() == "" {
		t.Fatal("session has no id")
	}
	if got := s.Context().Dir; got != "/srv" {
		t.Errorf("Dir = %q, want /srv", got)
	}

	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get() = %p, %v, want %p", got, err, s)
	}

	if err := m.Close(s.ID()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Close error = %v, want ErrNotFound", err)
	}
	if err := m.Close(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close() error = %v, want ErrNotFound", err)
	}
}

func TestManager_ListOrdered(t *testing.T) {
	m, clock := newTestManager(t)

	a, _ := m.Create(CreateOptions{})
	clock.Advance(time.Second)
	b, _ := m.Create(CreateOptions{})

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List() = %d sessions, want 2", len(list))
	}
	if list[0].ID != a.ID() || list[1].ID != b.ID() {
		t.Errorf("List() order = %s, %s, want %s, %s", list[0].ID, list[1].ID, a.ID(), b.ID())
	}
	if list[0].Dir != "/home/test" {
		t.Errorf("default Dir = %q, want home", list[0].Dir)
	}
}

func TestManager_UpdateConfig(t *testing.T) {
	m, _ := newTestManager(t)
	s, _ := m.Create(CreateOptions{})

	cfg := config.DefaultConfig()
	cfg.Engine.RefreshInterval = 0
	cfg.Security.CommandBlocklist = []string{`^shutdown`}
	m.UpdateConfig(cfg)

	b, err := s.Dispatch("shutdown -h now")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if b.ExitCode == nil || *b.ExitCode != 126 {
		t.Errorf("ExitCode = %v, want 126 after reload", b.ExitCode)
	}
}

func TestManager_CloseAll(t *testing.T) {
	m, _ := newTestManager(t)
	a, _ := m.Create(CreateOptions{})
	m.Create(CreateOptions{})

	m.CloseAll()
	if n := len(m.List()); n != 0 {
		t.Errorf("List() = %d after CloseAll, want 0", n)
	}
	if _, err := a.Dispatch("ls"); !errors.Is(err, ErrClosed) {
		t.Errorf("Dispatch() on closed session error = %v, want ErrClosed", err)
	}
}
