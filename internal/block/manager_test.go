package block

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/testing/fakes/fakeclock"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager(maxLines int) (*Manager, *fakeclock.Clock) {
	clock := fakeclock.New(epoch)
	return NewManager(clock, maxLines), clock
}

// -----------------------------------------------------------------------------
// 1. Lifecycle
// -----------------------------------------------------------------------------

func TestManager_SuccessLifecycle(t *testing.T) {
	m, clock := newTestManager(0)

	b := m.Create("ls -la", "/home/u")
	if b.Status != StatusIdle {
		t.Fatalf("Status = %q, want idle", b.Status)
	}
	if b.ID == "" {
		t.Fatal("block has no id")
	}

	if err := m.Start(b.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, _ := m.Get(b.ID)
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.ExitCode != nil {
		t.Error("running block must not have an exit code")
	}
	if !got.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, epoch)
	}

	clock.Advance(1500 * time.Millisecond)
	if err := m.Finalize(b.ID, 0); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, _ = m.Get(b.ID)
	if got.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}
	if len(got.Output) != 0 {
		t.Errorf("Output = %v, want empty", got.Output)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", got.Duration())
	}
}

func TestManager_NonZeroExit(t *testing.T) {
	m, _ := newTestManager(0)

	b := m.Create("false", "")
	m.Start(b.ID)
	m.Finalize(b.ID, 1)

	got, _ := m.Get(b.ID)
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if *got.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", *got.ExitCode)
	}
}

func TestManager_Fail(t *testing.T) {
	m, _ := newTestManager(0)

	b := m.Create("nosuchcmd", "")
	m.Start(b.ID)
	if err := m.Fail(b.ID, "spawn failed: not found", 127); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := m.Get(b.ID)
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if len(got.Output) != 1 || !got.Output[0].IsError || got.Output[0].Text != "spawn failed: not found" {
		t.Errorf("Output = %+v, want one synthetic error line", got.Output)
	}
	if *got.ExitCode != 127 {
		t.Errorf("ExitCode = %d, want 127", *got.ExitCode)
	}
}

func TestManager_InvalidTransitions(t *testing.T) {
	m, _ := newTestManager(0)

	b := m.Create("echo", "")

	if err := m.Finalize(b.ID, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Finalize(idle) err = %v, want ErrInvalidTransition", err)
	}
	if err := m.Append(b.ID, Line{Text: "x"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Append(idle) err = %v, want ErrInvalidTransition", err)
	}

	m.Start(b.ID)
	if err := m.Start(b.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start(running) err = %v, want ErrInvalidTransition", err)
	}

	m.Finalize(b.ID, 0)
	for name, err := range map[string]error{
		"Start":    m.Start(b.ID),
		"Finalize": m.Finalize(b.ID, 1),
		"Fail":     m.Fail(b.ID, "late", 1),
		"Append":   m.Append(b.ID, Line{Text: "late"}),
	} {
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s(success) err = %v, want ErrInvalidTransition", name, err)
		}
	}

	got, _ := m.Get(b.ID)
	if got.Status != StatusSuccess || *got.ExitCode != 0 {
		t.Errorf("terminal block changed: %q exit %d", got.Status, *got.ExitCode)
	}
}

func TestManager_UnknownID(t *testing.T) {
	m, _ := newTestManager(0)

	if err := m.Start("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start err = %v, want ErrNotFound", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := m.ToggleCollapse("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ToggleCollapse err = %v, want ErrNotFound", err)
	}
}

// -----------------------------------------------------------------------------
// 2. Output
// -----------------------------------------------------------------------------

func TestManager_AppendCap(t *testing.T) {
	m, _ := newTestManager(3)

	b := m.Create("yes", "")
	m.Start(b.ID)
	for i := 0; i < 5; i++ {
		if err := m.Append(b.ID, Line{Text: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, _ := m.Get(b.ID)
	if len(got.Output) != 3 {
		t.Fatalf("len(Output) = %d, want 3", len(got.Output))
	}
	if got.Output[0].Text != "line 2" || got.Output[2].Text != "line 4" {
		t.Errorf("Output = %+v, want lines 2..4", got.Output)
	}
	if got.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", got.Dropped)
	}
}

func TestManager_LongStreamStaysBounded(t *testing.T) {
	m, _ := newTestManager(100)

	b := m.Create("yes", "")
	m.Start(b.ID)
	const total = 10000
	for i := 0; i < total; i++ {
		if err := m.Append(b.ID, Line{Text: fmt.Sprintf("line %d", i)}); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	m.mu.Lock()
	backing := cap(m.byID[b.ID].Output)
	m.mu.Unlock()
	if backing > 4*100 {
		t.Errorf("cap(Output) = %d, want the backing array bounded near the cap", backing)
	}

	got, _ := m.Get(b.ID)
	if len(got.Output) != 100 {
		t.Fatalf("len(Output) = %d, want 100", len(got.Output))
	}
	if got.Output[0].Text != "line 9900" || got.Output[99].Text != "line 9999" {
		t.Errorf("Output spans %q..%q, want line 9900..line 9999", got.Output[0].Text, got.Output[99].Text)
	}
	if got.Dropped != total-100 {
		t.Errorf("Dropped = %d, want %d", got.Dropped, total-100)
	}
}

func TestManager_CopiesAreIndependent(t *testing.T) {
	m, _ := newTestManager(0)

	b := m.Create("cat", "")
	m.Start(b.ID)
	m.Append(b.ID, Line{Text: "a"})

	snap, _ := m.Get(b.ID)
	snap.Output[0].Text = "mutated"

	m.Append(b.ID, Line{Text: "b", IsError: true})
	got, _ := m.Get(b.ID)
	if got.Output[0].Text != "a" {
		t.Error("mutating a copy changed the stored block")
	}
	if got.Text() != "a\nb" {
		t.Errorf("Text() = %q, want %q", got.Text(), "a\nb")
	}
}

// -----------------------------------------------------------------------------
// 3. Collection
// -----------------------------------------------------------------------------

func TestManager_ActiveAndSnapshot(t *testing.T) {
	m, _ := newTestManager(0)

	if _, ok := m.Active(); ok {
		t.Fatal("Active() reported a block on an empty manager")
	}

	first := m.Create("make", "")
	m.Start(first.ID)
	m.Finalize(first.ID, 0)

	second := m.Create("ssh host", "")
	m.Start(second.ID)

	active, ok := m.Active()
	if !ok || active.ID != second.ID {
		t.Errorf("Active() = %q, %v; want %q", active.ID, ok, second.ID)
	}

	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].ID != first.ID || snap[1].ID != second.ID {
		t.Errorf("Snapshot order wrong: %+v", snap)
	}
}

func TestManager_ClearKeepsRunning(t *testing.T) {
	m, _ := newTestManager(0)

	done := m.Create("ls", "")
	m.Start(done.ID)
	m.Finalize(done.ID, 0)

	running := m.Create("top", "")
	m.Start(running.ID)

	if removed := m.Clear(); removed != 1 {
		t.Errorf("Clear() = %d, want 1", removed)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if _, err := m.Get(done.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cleared block still reachable: %v", err)
	}
	if _, err := m.Get(running.ID); err != nil {
		t.Errorf("running block removed: %v", err)
	}
}

func TestManager_HintsAndCollapse(t *testing.T) {
	m, _ := newTestManager(0)

	b := m.Create("x", "")
	m.SetHints(b.ID, []string{"check PATH"})
	m.ToggleCollapse(b.ID)

	got, _ := m.Get(b.ID)
	if len(got.Hints) != 1 || got.Hints[0] != "check PATH" {
		t.Errorf("Hints = %v", got.Hints)
	}
	if !got.Collapsed {
		t.Error("Collapsed = false after toggle")
	}

	m.ToggleCollapse(b.ID)
	got, _ = m.Get(b.ID)
	if got.Collapsed {
		t.Error("Collapsed = true after second toggle")
	}
}
