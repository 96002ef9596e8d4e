package output

import (
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/testing/fakes/fakeclock"
)

type recorder struct {
	mu        sync.Mutex
	immediate [][]string
	settled   []Update
}

func (r *recorder) onImmediate(tail []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.immediate = append(r.immediate, tail)
}

func (r *recorder) onSettled(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, u)
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeclock.Clock, *recorder) {
	t.Helper()
	clock := fakeclock.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	p := NewPipeline(PipelineOptions{
		Clock:     clock,
		Immediate: rec.onImmediate,
		Settled:   rec.onSettled,
	})
	return p, clock, rec
}

func TestPipeline_ImmediateSeesEveryChunk(t *testing.T) {
	p, _, rec := newTestPipeline(t)

	p.Feed("Connecting to host\r\n")
	p.Feed("user@host's pass")
	p.Feed("word: ")

	if len(rec.immediate) != 3 {
		t.Fatalf("immediate calls = %d, want 3", len(rec.immediate))
	}
	last := rec.immediate[2]
	if got := last[len(last)-1]; got != "user@host's password: " {
		t.Errorf("last tail line = %q, want the assembled partial line", got)
	}
	if len(rec.settled) != 0 {
		t.Errorf("settled ran %d times before quiescence", len(rec.settled))
	}
}

func TestPipeline_TailIsBounded(t *testing.T) {
	p, _, rec := newTestPipeline(t)

	p.Feed(strings.Repeat("line\n", 20) + "prompt$ ")

	tail := rec.immediate[0]
	if len(tail) != DefaultTailLines {
		t.Fatalf("tail length = %d, want %d", len(tail), DefaultTailLines)
	}
	if tail[len(tail)-1] != "prompt$ " {
		t.Errorf("tail ends with %q, want the partial prompt", tail[len(tail)-1])
	}
}

func TestPipeline_Debounce(t *testing.T) {
	p, clock, rec := newTestPipeline(t)

	p.Feed("app.conf logs/\n")
	clock.Advance(200 * time.Millisecond)
	p.Feed("src/\n")
	clock.Advance(200 * time.Millisecond)

	if len(rec.settled) != 0 {
		t.Fatalf("settled ran during a burst")
	}

	clock.Advance(100 * time.Millisecond)
	if len(rec.settled) != 1 {
		t.Fatalf("settled calls = %d, want 1", len(rec.settled))
	}

	want := []string{"app.conf", "logs/", "src/"}
	if got := rec.settled[0].Items; !reflect.DeepEqual(got, want) {
		t.Errorf("items = %q, want %q", got, want)
	}
	if clock.PendingTimers() != 0 {
		t.Errorf("pending timers = %d, want 0", clock.PendingTimers())
	}
}

func TestPipeline_InfersDirectoryOnChange(t *testing.T) {
	p, clock, rec := newTestPipeline(t)

	p.Feed("\x1b[01;32muser@host\x1b[0m:\x1b[01;34m/var/www\x1b[0m# ")
	clock.Advance(DefaultDebounce)

	if len(rec.settled) != 1 {
		t.Fatalf("settled calls = %d, want 1", len(rec.settled))
	}
	if u := rec.settled[0]; u.Dir != "/var/www" || !u.DirChanged {
		t.Errorf("update = %+v, want /var/www changed", u)
	}

	p.Feed("\r\nindex.html\r\nuser@host:/var/www# ")
	clock.Advance(DefaultDebounce)

	u := rec.settled[1]
	if u.DirChanged {
		t.Error("same directory reported as a change")
	}
	if u.Dir != "/var/www" {
		t.Errorf("Dir = %q, want /var/www", u.Dir)
	}
}

func TestPipeline_CdClearsItems(t *testing.T) {
	p, clock, rec := newTestPipeline(t)

	p.Feed("old.log stale/\nuser@host:/var/www# ")
	clock.Advance(DefaultDebounce)

	p.Feed("cd /tmp && ls\r\nfresh.txt\r\nuser@host:/tmp# ")
	clock.Advance(DefaultDebounce)

	u := rec.settled[len(rec.settled)-1]
	if !u.Cleared {
		t.Error("cd followed by a prompt should clear items")
	}
	if u.Dir != "/tmp" || !u.DirChanged {
		t.Errorf("Dir = %q changed=%v, want /tmp changed", u.Dir, u.DirChanged)
	}
	want := []string{"fresh.txt"}
	if !reflect.DeepEqual(u.Items, want) {
		t.Errorf("items = %q, want %q", u.Items, want)
	}
}

func TestPipeline_Flush(t *testing.T) {
	p, clock, rec := newTestPipeline(t)

	p.Feed("notes.md\n")
	p.Flush()

	if len(rec.settled) != 1 {
		t.Fatalf("settled calls = %d, want 1", len(rec.settled))
	}

	// The superseded timer must not run a second pass.
	clock.Advance(time.Second)
	if len(rec.settled) != 1 {
		t.Errorf("settled calls = %d after Advance, want 1", len(rec.settled))
	}
}

func TestPipeline_ResetAndStop(t *testing.T) {
	p, clock, rec := newTestPipeline(t)

	p.Feed("a.txt\nuser@host:/srv$ ")
	clock.Advance(DefaultDebounce)

	p.Reset()
	if dir, items := p.Context(); dir != "" || len(items) != 0 {
		t.Errorf("Context() after Reset = %q, %q; want empty", dir, items)
	}

	p.Stop()
	p.Feed("b.txt\n")
	clock.Advance(time.Second)

	if len(rec.immediate) != 1 {
		t.Errorf("immediate calls = %d, want 1 (Feed after Stop ignored)", len(rec.immediate))
	}
	if len(rec.settled) != 1 {
		t.Errorf("settled calls = %d, want 1", len(rec.settled))
	}
}
