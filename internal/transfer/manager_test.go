package transfer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/blockterm/internal/pty"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeclock"
	"github.com/acolita/blockterm/internal/testing/fakes/fakecreds"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeengine"
	"github.com/acolita/blockterm/internal/testing/fakes/fakefs"
	"github.com/acolita/blockterm/internal/testing/fakes/fakepty"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock  *fakeclock.Clock
	engine *fakeengine.Engine
	fs     *fakefs.FS
	store  *fakecreds.Store
	m      *Manager
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:  fakeclock.New(t0),
		engine: fakeengine.New(),
		fs:     fakefs.New(),
		store:  fakecreds.New(),
	}
	opts := Options{
		Clock:       h.clock,
		FS:          h.fs,
		Store:       h.store,
		DefaultUser: "me",
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.m = NewManager(h.engine, opts)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) start(t *testing.T, req Request) (Transfer, *fakepty.Process) {
	t.Helper()
	tr, err := h.m.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	spawns := h.engine.Spawns()
	if len(spawns) == 0 {
		t.Fatal("no process spawned")
	}
	return tr, spawns[len(spawns)-1].Process
}

func (h *harness) wait(t *testing.T, id string) Transfer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := h.m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return tr
}

// ---------------------------------------------------------------------------
// 1. Lifecycle
// ---------------------------------------------------------------------------

func TestStart_UploadSuccess(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/home/me/site.tgz", Dest: "deploy@files:/srv/"})

	if tr.Status != StatusRunning {
		t.Errorf("Status = %q, want running", tr.Status)
	}
	if tr.Command != "scp -r /home/me/site.tgz deploy@files:/srv/" {
		t.Errorf("Command = %q", tr.Command)
	}
	if tr.Target != "deploy@files" {
		t.Errorf("Target = %q, want deploy@files", tr.Target)
	}
	if !h.engine.Spawns()[0].PTY {
		t.Error("transfers must run in a pseudo-terminal")
	}

	proc.Emit("site.tgz   45%  1.2MB  1.1MB/s  00:01 ETA\r")
	if got, _ := h.m.Get(tr.ID); got.Progress != 0.45 {
		t.Errorf("Progress = %v, want 0.45", got.Progress)
	}

	proc.Emit("no percentage here\r\n")
	if got, _ := h.m.Get(tr.ID); got.Progress != 0.45 {
		t.Errorf("Progress after plain output = %v, want 0.45", got.Progress)
	}

	h.clock.Advance(3 * time.Second)
	proc.Exit(0)

	got := h.wait(t, tr.ID)
	if got.Status != StatusSuccess {
		t.Fatalf("Status = %q, want success (error %q)", got.Status, got.Error)
	}
	if got.Progress != 1 {
		t.Errorf("Progress = %v, want 1", got.Progress)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}
	if got.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got.Duration)
	}
	if !strings.Contains(got.Log, "45%") {
		t.Errorf("Log = %q, want raw output", got.Log)
	}
}

func TestStart_RsyncProgram(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Program = "rsync" })

	tr, _ := h.start(t, Request{Direction: Upload, Source: "/data/my file.txt", Dest: "files:/backup/"})
	if want := "rsync -a --progress '/data/my file.txt' files:/backup/"; tr.Command != want {
		t.Errorf("Command = %q, want %q", tr.Command, want)
	}
	if tr.Target != "me@files" {
		t.Errorf("Target = %q, want me@files", tr.Target)
	}
}

func TestStart_GlobUpload(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.log", "b.log", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h := newHarness(t, nil)

	tr, _ := h.start(t, Request{Direction: Upload, Source: "*.log", Dest: "files:/logs/", Dir: dir})

	for _, want := range []string{filepath.Join(dir, "a.log"), filepath.Join(dir, "b.log")} {
		if !strings.Contains(tr.Command, want) {
			t.Errorf("Command %q missing %s", tr.Command, want)
		}
	}
	if strings.Contains(tr.Command, "c.txt") {
		t.Errorf("Command %q includes a non-matching file", tr.Command)
	}
}

func TestStart_InvalidRequests(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty source", Request{Direction: Upload, Dest: "files:/x"}},
		{"empty dest", Request{Direction: Download, Source: "files:/x"}},
		{"upload dest not remote", Request{Direction: Upload, Source: "/a", Dest: "/b"}},
		{"download source not remote", Request{Direction: Download, Source: "/a", Dest: "/b"}},
		{"bad direction", Request{Direction: "sideways", Source: "/a", Dest: "files:/b"}},
		{"glob without matches", Request{Direction: Upload, Source: filepath.Join(t.TempDir(), "*.none"), Dest: "files:/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.m.Start(tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
	if n := len(h.engine.Spawns()); n != 0 {
		t.Errorf("spawns = %d, want 0", n)
	}
	if n := len(h.m.List()); n != 0 {
		t.Errorf("List() = %d transfers, want 0", n)
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.Fail(pty.NewSpawnError("scp", exec.ErrNotFound))

	tr, err := h.m.Start(Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tr.Status != StatusError {
		t.Fatalf("Status = %q, want error", tr.Status)
	}
	if tr.ExitCode == nil || *tr.ExitCode != 127 {
		t.Errorf("ExitCode = %v, want 127", tr.ExitCode)
	}
	if !strings.Contains(tr.Hint, "not found") {
		t.Errorf("Hint = %q", tr.Hint)
	}
}

func TestStart_FailureKeepsRawCode(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	proc.Exit(5)

	got := h.wait(t, tr.ID)
	if got.Status != StatusError {
		t.Fatalf("Status = %q, want error", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 5 {
		t.Errorf("ExitCode = %v, want 5", got.ExitCode)
	}
	if !strings.Contains(got.Hint, "authentication") {
		t.Errorf("Hint = %q", got.Hint)
	}
	if got.Error != "exit code 5" {
		t.Errorf("Error = %q", got.Error)
	}
}

// ---------------------------------------------------------------------------
// 2. Download staging
// ---------------------------------------------------------------------------

func TestDownload_StagesAndRenames(t *testing.T) {
	h := newHarness(t, nil)
	h.fs.AddDir("/tmp/dl")

	tr, proc := h.start(t, Request{Direction: Download, Source: "deploy@files:/srv/app.tgz", Dest: "/tmp/dl"})
	if want := "scp -r deploy@files:/srv/app.tgz /tmp/dl/app.tgz.part"; tr.Command != want {
		t.Errorf("Command = %q, want %q", tr.Command, want)
	}

	h.fs.AddFile("/tmp/dl/app.tgz.part", []byte("payload"), 0o644)
	proc.Exit(0)

	got := h.wait(t, tr.ID)
	if got.Status != StatusSuccess {
		t.Fatalf("Status = %q (error %q)", got.Status, got.Error)
	}
	files := h.fs.Files()
	if len(files) != 1 || files[0] != "/tmp/dl/app.tgz" {
		t.Errorf("Files() = %v, want [/tmp/dl/app.tgz]", files)
	}
}

func TestDownload_RelativeAndHomePaths(t *testing.T) {
	h := newHarness(t, nil)

	tr, _ := h.start(t, Request{Direction: Download, Source: "files:/srv/a", Dest: "a.bin", Dir: "/work"})
	if !strings.HasSuffix(tr.Command, " /work/a.bin.part") {
		t.Errorf("Command = %q", tr.Command)
	}

	tr, _ = h.start(t, Request{Direction: Download, Source: "files:/srv/b", Dest: "~/b.bin"})
	if !strings.HasSuffix(tr.Command, " /home/test/b.bin.part") {
		t.Errorf("Command = %q", tr.Command)
	}
}

func TestDownload_FailureRemovesStaging(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Download, Source: "files:/srv/app.tgz", Dest: "/tmp/app.tgz"})
	h.fs.AddFile("/tmp/app.tgz.part", []byte("half"), 0o644)
	proc.Exit(1)

	if got := h.wait(t, tr.ID); got.Status != StatusError {
		t.Fatalf("Status = %q, want error", got.Status)
	}
	if files := h.fs.Files(); len(files) != 0 {
		t.Errorf("Files() = %v, want none", files)
	}
}

// ---------------------------------------------------------------------------
// 3. Cancel and timeout
// ---------------------------------------------------------------------------

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Download, Source: "files:/srv/app.tgz", Dest: "/tmp/app.tgz"})
	h.fs.AddFile("/tmp/app.tgz.part", []byte("half"), 0o644)

	if err := h.m.Cancel(tr.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := h.wait(t, tr.ID)
	if got.Status != StatusCanceled {
		t.Errorf("Status = %q, want canceled", got.Status)
	}
	if !proc.Terminated() {
		t.Error("process was not terminated")
	}
	if files := h.fs.Files(); len(files) != 0 {
		t.Errorf("Files() = %v, staging file not discarded", files)
	}

	if err := h.m.Cancel(tr.ID); err != nil {
		t.Errorf("Cancel of a finished transfer: %v", err)
	}
	if err := h.m.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(unknown) = %v, want ErrNotFound", err)
	}
}

func TestTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Timeout = time.Minute })

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	h.clock.Advance(time.Minute)

	got := h.wait(t, tr.ID)
	if got.Status != StatusError {
		t.Fatalf("Status = %q, want error", got.Status)
	}
	if !strings.Contains(got.Error, "timed out after 1m0s") {
		t.Errorf("Error = %q", got.Error)
	}
	if !proc.Terminated() {
		t.Error("process was not terminated")
	}
}

func TestTimeout_StoppedOnExit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Timeout = time.Minute })

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	proc.Exit(0)
	h.wait(t, tr.ID)

	if n := h.clock.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers() = %d, want 0", n)
	}
}

// ---------------------------------------------------------------------------
// 4. Credentials
// ---------------------------------------------------------------------------

func TestCredential_InjectedOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Set("files", "deploy", "pw")

	_, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "deploy@files:/b"})

	proc.Emit("deploy@files's password: ")
	proc.Emit("deploy@files's password: ")

	if got := proc.Writes(); len(got) != 1 || got[0] != "pw\r" {
		t.Errorf("Writes() = %q, want one injection", got)
	}
}

func TestCredential_IsolatedPerTransfer(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Set("files", "deploy", "pw1")
	h.store.Set("backup", "ops", "pw2")

	_, first := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "deploy@files:/b"})
	_, second := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "ops@backup:/b"})

	first.Emit("Password: ")
	second.Emit("Password: ")
	first.Emit("Password: ")

	if got := first.Writes(); len(got) != 1 || got[0] != "pw1\r" {
		t.Errorf("first Writes() = %q", got)
	}
	if got := second.Writes(); len(got) != 1 || got[0] != "pw2\r" {
		t.Errorf("second Writes() = %q", got)
	}
}

func TestCredential_ManualResponse(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "deploy@files:/b"})
	proc.Emit("deploy@files's password: ")

	got, _ := h.m.Get(tr.ID)
	if !strings.Contains(got.Prompt, "password:") {
		t.Errorf("Prompt = %q", got.Prompt)
	}
	if !strings.Contains(got.Hint, "credential required") {
		t.Errorf("Hint = %q", got.Hint)
	}
	if len(proc.Writes()) != 0 {
		t.Errorf("Writes() = %q, want none", proc.Writes())
	}

	if err := h.m.Respond(tr.ID, []byte("typed")); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := proc.Writes(); len(got) != 1 || got[0] != "typed\r" {
		t.Errorf("Writes() = %q", got)
	}
	if got, _ := h.m.Get(tr.ID); got.Prompt != "" {
		t.Errorf("Prompt after Respond = %q", got.Prompt)
	}

	proc.Exit(0)
	h.wait(t, tr.ID)
	if err := h.m.Respond(tr.ID, []byte("late")); err == nil {
		t.Error("Respond to a finished transfer: expected error")
	}
}

// ---------------------------------------------------------------------------
// 5. Bookkeeping
// ---------------------------------------------------------------------------

func TestLogBudget(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LogBudget = 64 })

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	for i := 0; i < 10; i++ {
		proc.Emit(strings.Repeat("x", 30) + "\n")
	}

	got, _ := h.m.Get(tr.ID)
	if n := len(got.Log); n > 64 {
		t.Errorf("len(Log) = %d, want <= 64", n)
	}
}

func TestListAndGet(t *testing.T) {
	h := newHarness(t, nil)

	a, _ := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/a"})
	b, _ := h.start(t, Request{Direction: Upload, Source: "/b", Dest: "files:/b"})

	list := h.m.List()
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("List() order wrong: %+v", list)
	}
	if _, err := h.m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if _, err := h.m.Wait(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Wait(missing) = %v, want ErrNotFound", err)
	}
}

func TestWait_ContextDone(t *testing.T) {
	h := newHarness(t, nil)
	tr, _ := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := h.m.Wait(ctx, tr.ID)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
}

func TestOnUpdate(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []Transfer
	)
	h := newHarness(t, func(o *Options) {
		o.OnUpdate = func(tr Transfer) {
			mu.Lock()
			updates = append(updates, tr)
			mu.Unlock()
		}
	})

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	proc.Emit("a 50%\r")
	proc.Exit(0)
	h.wait(t, tr.ID)

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].Progress != 0.5 {
		t.Errorf("first update Progress = %v", updates[0].Progress)
	}
	if updates[1].Status != StatusSuccess {
		t.Errorf("last update Status = %q", updates[1].Status)
	}
}

func TestClose_CancelsRunning(t *testing.T) {
	h := newHarness(t, nil)

	tr, proc := h.start(t, Request{Direction: Upload, Source: "/a", Dest: "files:/b"})
	h.m.Close()

	if got := h.wait(t, tr.ID); got.Status != StatusCanceled {
		t.Errorf("Status = %q, want canceled", got.Status)
	}
	if !proc.Terminated() {
		t.Error("process was not terminated")
	}
}
