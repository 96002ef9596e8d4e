package history

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/ports"
)

var ctx = context.Background()

func rec(cmd string) ports.CommandRecord {
	return ports.CommandRecord{
		Command:   cmd,
		Dir:       "/home/me",
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
}

// stores returns one of each backend, already open.
func stores(t *testing.T, limit int) map[string]ports.HistoryManager {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "history", "history.db"), limit)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]ports.HistoryManager{
		"memory": NewMemoryStore(limit),
		"sqlite": sq,
	}
}

func add(t *testing.T, s ports.HistoryManager, cmds ...string) {
	t.Helper()
	for _, c := range cmds {
		if err := s.AddCommand(ctx, rec(c)); err != nil {
			t.Fatalf("AddCommand(%q): %v", c, err)
		}
	}
}

// ---------------------------------------------------------------------------
// 1. Recent
// ---------------------------------------------------------------------------

func TestRecent(t *testing.T) {
	for name, s := range stores(t, 0) {
		t.Run(name, func(t *testing.T) {
			add(t, s, "ls", "cd /tmp", "  ", "git status", "ls")

			got, err := s.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			want := []string{"cd /tmp", "git status", "ls"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Recent(3) = %q, want %q", got, want)
			}

			all, _ := s.Recent(ctx, 0)
			if len(all) != 4 {
				t.Errorf("Recent(0) = %q, want 4 commands", all)
			}
		})
	}
}

func TestRecent_Trimmed(t *testing.T) {
	for name, s := range stores(t, 0) {
		t.Run(name, func(t *testing.T) {
			add(t, s, "  make test \n")
			got, _ := s.Recent(ctx, 1)
			if len(got) != 1 || got[0] != "make test" {
				t.Errorf("Recent = %q, want [make test]", got)
			}
		})
	}
}

func TestLimitEvictsOldest(t *testing.T) {
	for name, s := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			add(t, s, "a", "b", "c", "d", "e")

			got, _ := s.Recent(ctx, 0)
			want := []string{"c", "d", "e"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Recent = %q, want %q", got, want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 2. Frequent
// ---------------------------------------------------------------------------

func TestFrequent(t *testing.T) {
	for name, s := range stores(t, 0) {
		t.Run(name, func(t *testing.T) {
			add(t, s, "ls", "git status", "ls", "make", "git status", "ls", "make")

			got, err := s.Frequent(ctx, 2)
			if err != nil {
				t.Fatalf("Frequent: %v", err)
			}
			want := []string{"ls", "make"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Frequent(2) = %q, want %q", got, want)
			}
		})
	}
}

func TestEmpty(t *testing.T) {
	for name, s := range stores(t, 0) {
		t.Run(name, func(t *testing.T) {
			if got, _ := s.Recent(ctx, 5); len(got) != 0 {
				t.Errorf("Recent = %q, want empty", got)
			}
			if got, _ := s.Frequent(ctx, 5); len(got) != 0 {
				t.Errorf("Frequent = %q, want empty", got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 3. SQLite specifics
// ---------------------------------------------------------------------------

func TestSQLite_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")

	s, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	add(t, s, "uptime")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, _ := s.Recent(ctx, 10)
	if len(got) != 1 || got[0] != "uptime" {
		t.Errorf("Recent after reopen = %q", got)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:", 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	add(t, s, "whoami", "id")
	got, _ := s.Recent(ctx, 10)
	if !reflect.DeepEqual(got, []string{"whoami", "id"}) {
		t.Errorf("Recent = %q", got)
	}
}

// ---------------------------------------------------------------------------
// 4. Open
// ---------------------------------------------------------------------------

func TestOpen(t *testing.T) {
	s, closeFn, err := Open("", "", 10)
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(\"\") = %T, want *MemoryStore", s)
	}
	closeFn()

	s, closeFn, err = Open(BackendSQLite, filepath.Join(t.TempDir(), "h.db"), 10)
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLiteStore", s)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}

	if _, _, err := Open("redis", "", 0); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestMemoryStore_Records(t *testing.T) {
	s := NewMemoryStore(0)
	r := rec("make build")
	r.ExitCode = 2
	r.Remote = true
	if err := s.AddCommand(ctx, r); err != nil {
		t.Fatal(err)
	}

	got := s.Records()
	if len(got) != 1 || got[0].ExitCode != 2 || !got[0].Remote || !got[0].Failed() {
		t.Errorf("Records() = %+v", got)
	}
}
