package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/acolita/blockterm/internal/adapters/realclock"
	"github.com/acolita/blockterm/internal/adapters/realfs"
	"github.com/acolita/blockterm/internal/inject"
	"github.com/acolita/blockterm/internal/output"
	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/prompt"
	"github.com/acolita/blockterm/internal/pty"
	"github.com/acolita/blockterm/internal/security"
)

// Options configures a Manager.
type Options struct {
	Backend     Backend
	Program     string // "scp" or "rsync" for the pty backend
	Clock       ports.Clock
	FS          ports.FileSystem
	Store       ports.CredentialStore
	Limiter     *security.AuthRateLimiter
	DefaultUser string
	LogBudget   int
	Timeout     time.Duration // 0 disables
	Dialer      RemoteDialer  // required by the sftp backend

	// OnUpdate, if set, receives a snapshot after progress, prompt and
	// status changes. It must not block.
	OnUpdate func(Transfer)
}

// Manager runs background transfers. Each transfer owns its process,
// injector and log; nothing is shared with the interactive session except
// the read-only credential store.
type Manager struct {
	engine ports.TerminalEngine
	opts   Options

	mu        sync.Mutex
	transfers map[string]*entry
	order     []string
}

type entry struct {
	mu       sync.Mutex
	t        Transfer
	log      *logBuffer
	lines    output.LineAssembler
	tail     []string
	proc     ports.Process
	injector *inject.Injector
	cancel   context.CancelFunc
	timer    ports.Timer
	part     string // local staging file for downloads
	final    string
	canceled bool
	timedOut bool
	done     chan struct{}
}

// plan is a validated request.
type plan struct {
	remote remoteSpec
	locals []string // upload sources after glob expansion
	final  string   // download destination
	part   string   // download staging file
}

// NewManager creates a transfer manager. engine spawns pty backend
// processes and may be nil when only the sftp backend is used.
func NewManager(engine ports.TerminalEngine, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.FS == nil {
		opts.FS = realfs.New()
	}
	if opts.Backend == "" {
		opts.Backend = BackendPTY
	}
	if opts.Program == "" {
		opts.Program = "scp"
	}
	return &Manager{
		engine:    engine,
		opts:      opts,
		transfers: make(map[string]*entry),
	}
}

// Start validates req and launches the transfer in the background. Errors
// are returned only for malformed requests; failures after launch are
// reported through the transfer's status.
func (m *Manager) Start(req Request) (Transfer, error) {
	p, err := m.plan(req)
	if err != nil {
		return Transfer{}, err
	}

	e := &entry{
		t: Transfer{
			ID:        uuid.NewString(),
			Direction: req.Direction,
			Backend:   m.opts.Backend,
			Source:    req.Source,
			Dest:      req.Dest,
			Status:    StatusRunning,
			StartedAt: m.opts.Clock.Now(),
		},
		log:   newLogBuffer(m.opts.LogBudget),
		part:  p.part,
		final: p.final,
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	m.transfers[e.t.ID] = e
	m.order = append(m.order, e.t.ID)
	m.mu.Unlock()

	slog.Info("transfer started",
		slog.String("transfer_id", e.t.ID),
		slog.String("direction", string(req.Direction)),
		slog.String("backend", string(m.opts.Backend)),
	)

	if m.opts.Backend == BackendSFTP {
		m.startSFTP(e, p)
	} else {
		m.startPTY(e, p, req.Dir)
	}
	return e.snapshot(), nil
}

func (m *Manager) plan(req Request) (plan, error) {
	if req.Source == "" || req.Dest == "" {
		return plan{}, errors.New("transfer needs a source and a destination")
	}
	if m.opts.Backend == BackendPTY && m.engine == nil {
		return plan{}, errors.New("pty backend needs a terminal engine")
	}

	var p plan
	var err error
	switch req.Direction {
	case Upload:
		if p.remote, err = parseRemote(req.Dest); err != nil {
			return plan{}, err
		}
		if p.locals, err = m.expandSources(req.Source, req.Dir); err != nil {
			return plan{}, err
		}
	case Download:
		if p.remote, err = parseRemote(req.Source); err != nil {
			return plan{}, err
		}
		p.final = m.localPath(req.Dest, req.Dir)
		if info, err := m.opts.FS.Stat(p.final); err == nil && info.IsDir() {
			p.final = filepath.Join(p.final, path.Base(p.remote.path))
		}
		p.part = p.final + ".part"
	default:
		return plan{}, fmt.Errorf("unknown transfer direction %q", req.Direction)
	}
	return p, nil
}

func (m *Manager) localPath(p, dir string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := m.opts.FS.UserHomeDir(); err == nil {
			p = filepath.Join(home, rest)
		}
	}
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return p
}

func (m *Manager) expandSources(src, dir string) ([]string, error) {
	p := m.localPath(src, dir)
	if !strings.ContainsAny(p, "*?[{") {
		return []string{p}, nil
	}
	matches, err := doublestar.FilepathGlob(p)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", src, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match %s", src)
	}
	return matches, nil
}

// command builds the scp or rsync invocation for p.
func (m *Manager) command(dir Direction, p plan) string {
	args := []string{m.opts.Program}
	if filepath.Base(m.opts.Program) == "rsync" {
		args = append(args, "-a", "--progress")
	} else {
		args = append(args, "-r")
	}
	if dir == Upload {
		args = append(args, p.locals...)
		args = append(args, p.remote.String())
	} else {
		args = append(args, p.remote.String(), p.part)
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./~-]+$`)

func shellQuote(s string) string {
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (m *Manager) startPTY(e *entry, p plan, dir string) {
	cmd := m.command(e.t.Direction, p)
	injector := inject.New(m.opts.Store, m.opts.Limiter, m.opts.DefaultUser)
	injector.Begin(cmd)

	e.mu.Lock()
	e.t.Command = cmd
	e.injector = injector
	if t, ok := injector.Target(); ok {
		e.t.Target = t.String()
	}
	e.mu.Unlock()

	proc, err := m.engine.ExecutePTY(cmd, nil, dir)
	if err != nil {
		code := 1
		var se *pty.SpawnError
		if errors.As(err, &se) {
			code = se.ExitCode()
		}
		m.finish(e, code, fmt.Sprintf("spawn transfer: %v", err))
		return
	}

	e.mu.Lock()
	e.proc = proc
	canceled := e.canceled
	if m.opts.Timeout > 0 {
		e.timer = m.opts.Clock.AfterFunc(m.opts.Timeout, func() {
			e.mu.Lock()
			e.timedOut = true
			e.mu.Unlock()
			proc.Terminate()
		})
	}
	e.mu.Unlock()
	if canceled {
		proc.Terminate()
	}

	proc.OnOutput(func(c ports.Chunk) { m.onChunk(e, c) })

	go func() {
		code, err := proc.Wait()
		injector.Finish(code)
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		m.finish(e, code, msg)
	}()
}

// redraws turns carriage-return progress redraws into separate lines.
var redraws = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func (m *Manager) onChunk(e *entry, c ports.Chunk) {
	text := output.StripANSI(redraws.Replace(c.Text))

	e.mu.Lock()
	e.log.Write(c.Text)
	e.tail = append(e.tail, e.lines.Push(text)...)
	if n := len(e.tail); n > prompt.DefaultScanLines {
		e.tail = append([]string(nil), e.tail[n-prompt.DefaultScanLines:]...)
	}
	tail := append([]string(nil), e.tail...)
	if partial := e.lines.Partial(); partial != "" {
		tail = append(tail, partial)
	}
	changed := false
	if p, ok := ParseProgress(text); ok && p != e.t.Progress {
		e.t.Progress = p
		changed = true
	}
	proc, injector := e.proc, e.injector
	e.mu.Unlock()

	res := injector.Observe(tail, proc)
	switch res.Outcome {
	case inject.Wrote:
		e.mu.Lock()
		e.t.Prompt = ""
		e.mu.Unlock()
		changed = true
	case inject.Manual:
		e.mu.Lock()
		if e.t.Prompt != res.Prompt {
			e.t.Prompt = res.Prompt
			e.t.Hint = "credential required: " + res.Reason
			changed = true
		}
		e.mu.Unlock()
	}

	if changed {
		m.notify(e.snapshot())
	}
}

// finish records the outcome once. Failed and canceled downloads lose their
// staging file; successful ones are moved into place.
func (m *Manager) finish(e *entry, code int, errMsg string) {
	e.mu.Lock()
	if e.t.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	now := m.opts.Clock.Now()
	e.t.EndedAt = &now
	e.t.Duration = now.Sub(e.t.StartedAt)
	e.t.ExitCode = &code
	e.t.Prompt = ""

	switch {
	case e.canceled:
		e.t.Status = StatusCanceled
		m.discard(e)
	case e.timedOut:
		e.t.Status = StatusError
		e.t.Error = fmt.Sprintf("transfer timed out after %s", m.opts.Timeout)
		e.t.Hint = FailureHint(124)
		m.discard(e)
	case code == 0:
		if err := m.promote(e); err != nil {
			e.t.Status = StatusError
			e.t.Error = err.Error()
			break
		}
		e.t.Status = StatusSuccess
		e.t.Progress = 1
		e.t.Hint = ""
	default:
		e.t.Status = StatusError
		e.t.Error = errMsg
		if e.t.Error == "" {
			e.t.Error = fmt.Sprintf("exit code %d", code)
		}
		e.t.Hint = FailureHint(code)
		m.discard(e)
	}

	snap := e.snapshotLocked()
	e.mu.Unlock()

	slog.Info("transfer finished",
		slog.String("transfer_id", snap.ID),
		slog.String("status", string(snap.Status)),
		slog.Int("exit_code", code),
		slog.Duration("duration", snap.Duration),
	)
	m.notify(snap)
	close(e.done)
}

func (m *Manager) promote(e *entry) error {
	if e.part == "" {
		return nil
	}
	if err := m.opts.FS.Rename(e.part, e.final); err != nil {
		m.discard(e)
		return fmt.Errorf("move %s into place: %w", e.part, err)
	}
	return nil
}

func (m *Manager) discard(e *entry) {
	if e.part == "" {
		return
	}
	if err := m.opts.FS.Remove(e.part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("remove staging file failed",
			slog.String("path", e.part),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) notify(t Transfer) {
	if m.opts.OnUpdate != nil {
		m.opts.OnUpdate(t)
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.transfers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a snapshot of one transfer.
func (m *Manager) Get(id string) (Transfer, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Transfer{}, err
	}
	return e.snapshot(), nil
}

// List returns every transfer in start order.
func (m *Manager) List() []Transfer {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.transfers[id])
	}
	m.mu.Unlock()

	out := make([]Transfer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Cancel stops a running transfer and discards its staging file.
// Canceling a finished transfer does nothing.
func (m *Manager) Cancel(id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.t.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	e.canceled = true
	proc, cancel := e.proc, e.cancel
	e.mu.Unlock()

	slog.Info("transfer canceled", slog.String("transfer_id", id))
	if proc != nil {
		if err := proc.Terminate(); err != nil {
			return fmt.Errorf("terminate transfer: %w", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Respond answers a prompt the injector left for manual entry. secret is
// wiped before Respond returns.
func (m *Manager) Respond(id string, secret []byte) error {
	defer security.WipeBytes(secret)

	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	proc, status := e.proc, e.t.Status
	e.t.Prompt = ""
	e.mu.Unlock()

	if status.Terminal() {
		return fmt.Errorf("transfer %s already %s", id, status)
	}
	if proc == nil {
		return fmt.Errorf("transfer %s does not accept input", id)
	}

	payload := make([]byte, 0, len(secret)+1)
	payload = append(append(payload, secret...), '\r')
	defer security.WipeBytes(payload)
	if _, err := proc.Write(payload); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Wait blocks until the transfer finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Transfer, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Transfer{}, err
	}
	select {
	case <-e.done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Close cancels every running transfer.
func (m *Manager) Close() {
	for _, t := range m.List() {
		if !t.Status.Terminal() {
			m.Cancel(t.ID)
		}
	}
}

func (e *entry) snapshot() Transfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *entry) snapshotLocked() Transfer {
	t := e.t
	t.Log = e.log.String()
	if t.ExitCode != nil {
		code := *t.ExitCode
		t.ExitCode = &code
	}
	if t.EndedAt != nil {
		end := *t.EndedAt
		t.EndedAt = &end
	}
	return t
}
