// Package session coordinates one interactive command session: it routes
// dispatched commands to the terminal engine, taps their output for prompts
// and directory context, and keeps the block, transfer and prediction state
// that callers observe.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acolita/blockterm/internal/adapters/realclock"
	"github.com/acolita/blockterm/internal/adapters/realfs"
	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/classify"
	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/engine"
	"github.com/acolita/blockterm/internal/history"
	"github.com/acolita/blockterm/internal/inject"
	"github.com/acolita/blockterm/internal/output"
	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/predict"
	"github.com/acolita/blockterm/internal/prompt"
	"github.com/acolita/blockterm/internal/pty"
	"github.com/acolita/blockterm/internal/recording"
	"github.com/acolita/blockterm/internal/recovery"
	"github.com/acolita/blockterm/internal/security"
	"github.com/acolita/blockterm/internal/transfer"
)

// History windows handed to prediction.
const (
	recentWindow   = 500
	frequentWindow = 50
)

// Options configures a Session. Only Config is required in practice; every
// other dependency has a working default.
type Options struct {
	ID       string
	Config   *config.Config
	Engine   ports.TerminalEngine
	Clock    ports.Clock
	FS       ports.FileSystem
	Store    ports.CredentialStore
	Limiter  *security.AuthRateLimiter
	History  ports.HistoryManager
	Recorder *recording.Manager
	Dialer   transfer.RemoteDialer
	Dir      string // initial working directory, default home
}

// Status is a point-in-time summary of a session.
type Status struct {
	ID          string         `json:"id"`
	Dir         string         `json:"dir"`
	Remote      bool           `json:"remote"`
	RemoteDir   string         `json:"remote_dir,omitempty"`
	Target      string         `json:"target,omitempty"`
	Running     bool           `json:"running"`
	ActiveBlock string         `json:"active_block,omitempty"`
	Pending     *PromptRequest `json:"pending,omitempty"`
	Blocks      int            `json:"blocks"`
	Transfers   int            `json:"transfers"`
	Items       []string       `json:"items,omitempty"`
	Recording   string         `json:"recording,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Session is one interactive command session. All methods are safe for
// concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	engine    ports.TerminalEngine
	clock     ports.Clock
	fs        ports.FileSystem
	history   ports.HistoryManager
	limiter   *security.AuthRateLimiter
	recorder  *recording.Manager
	filter    *security.CommandFilter
	injector  *inject.Injector
	pipeline  *output.Pipeline
	blocks    *block.Manager
	transfers *transfer.Manager
	predictor *predict.Engine
	analyzer  *recovery.Analyzer
	pending   pendingSlot
	events    *broker

	mu           sync.Mutex
	cfg          *config.Config
	classifier   *classify.Classifier
	detector     *prompt.Detector
	dir          string
	prevDir      string
	remote       bool
	remoteTarget string
	remoteItems  []string
	localItems   []string
	active       *run
	closed       bool
	stop         chan struct{}
}

// New creates a session and starts its refresh loop.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = realclock.New()
	}
	if opts.FS == nil {
		opts.FS = realfs.New()
	}
	if opts.Engine == nil {
		opts.Engine = engine.NewLocal(ptyOptions(cfg))
	}
	if opts.History == nil {
		opts.History = history.NewMemoryStore(cfg.History.Limit)
	}
	if opts.Limiter == nil {
		opts.Limiter = security.NewAuthRateLimiter(opts.Clock, cfg.Security.MaxAuthFailures, cfg.Security.AuthLockoutDuration)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	filter, err := security.NewCommandFilter(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist)
	if err != nil {
		return nil, fmt.Errorf("create command filter: %w", err)
	}
	detector, err := newDetector(cfg)
	if err != nil {
		return nil, err
	}

	dir := opts.Dir
	if dir == "" {
		if home, err := opts.FS.UserHomeDir(); err == nil {
			dir = home
		} else {
			dir = "/"
		}
	}

	defaultUser := cfg.Security.DefaultUser
	if defaultUser == "" {
		defaultUser = opts.FS.Getenv("USER")
	}

	s := &Session{
		id:         opts.ID,
		createdAt:  opts.Clock.Now(),
		engine:     opts.Engine,
		clock:      opts.Clock,
		fs:         opts.FS,
		history:    opts.History,
		limiter:    opts.Limiter,
		recorder:   opts.Recorder,
		filter:     filter,
		injector:   inject.New(opts.Store, opts.Limiter, defaultUser),
		blocks:     block.NewManager(opts.Clock, cfg.Engine.MaxOutputLines),
		predictor:  predict.New(opts.FS),
		analyzer:   recovery.NewAnalyzer(),
		events:     newBroker(),
		cfg:        cfg,
		classifier: classify.New(cfg.Engine.InteractivePrograms...),
		detector:   detector,
		dir:        dir,
		stop:       make(chan struct{}),
	}

	s.pipeline = output.NewPipeline(output.PipelineOptions{
		Clock:     opts.Clock,
		Debounce:  cfg.Engine.Debounce,
		TailLines: cfg.Engine.PromptScanLines,
		Immediate: s.onTail,
		Settled:   s.onSettled,
	})

	s.transfers = transfer.NewManager(opts.Engine, transfer.Options{
		Backend:     transfer.Backend(cfg.Transfer.Backend),
		Program:     cfg.Transfer.Program,
		Clock:       opts.Clock,
		FS:          opts.FS,
		Store:       opts.Store,
		Limiter:     opts.Limiter,
		DefaultUser: defaultUser,
		LogBudget:   cfg.Transfer.LogBudget,
		Timeout:     cfg.Transfer.Timeout,
		Dialer:      opts.Dialer,
		OnUpdate:    s.onTransfer,
	})

	if s.recorder != nil {
		if _, err := s.recorder.Start(s.id, recording.Options{
			Title:  "blockterm " + s.id,
			Width:  int(cfg.Shell.Cols),
			Height: int(cfg.Shell.Rows),
			Shell:  cfg.Shell.Path,
			Term:   cfg.Shell.Term,
		}); err != nil {
			slog.Warn("recording disabled for session",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()),
			)
		}
	}

	if cfg.Engine.RefreshInterval > 0 {
		go s.refreshLoop(opts.Clock.NewTicker(cfg.Engine.RefreshInterval))
	}

	slog.Info("session created",
		slog.String("session_id", s.id),
		slog.String("dir", dir),
	)
	return s, nil
}

func ptyOptions(cfg *config.Config) pty.Options {
	return pty.Options{
		Shell:        cfg.Shell.Path,
		Term:         cfg.Shell.Term,
		Rows:         cfg.Shell.Rows,
		Cols:         cfg.Shell.Cols,
		WriteTimeout: cfg.Engine.WriteTimeout,
	}
}

func newDetector(cfg *config.Config) (*prompt.Detector, error) {
	d := prompt.NewDetector(cfg.Engine.PromptScanLines)
	for _, p := range cfg.PromptDetection.CustomPatterns {
		if err := d.AddPatternFromConfig(p.Name, p.Regex, p.Type, p.MaskInput); err != nil {
			return nil, fmt.Errorf("add custom pattern %s: %w", p.Name, err)
		}
	}
	return d, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

func (s *Session) publish(ev Event) {
	ev.SessionID = s.id
	if ev.Time.IsZero() {
		ev.Time = s.clock.Now()
	}
	s.events.publish(ev)
}

// Block returns a copy of one block.
func (s *Session) Block(id string) (block.Block, error) {
	return s.blocks.Get(id)
}

// Blocks returns copies of every block in dispatch order.
func (s *Session) Blocks() []block.Block {
	return s.blocks.Snapshot()
}

// ClearBlocks removes finished blocks and returns how many were removed.
func (s *Session) ClearBlocks() int {
	return s.blocks.Clear()
}

// ToggleCollapse flips a block's collapse flag.
func (s *Session) ToggleCollapse(id string) error {
	return s.blocks.ToggleCollapse(id)
}

// Context returns the directory context prediction currently uses.
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextLocked()
}

func (s *Session) contextLocked() Context {
	c := Context{Dir: s.dir, Remote: s.remote, Target: s.remoteTarget}
	if s.remote {
		c.RemoteDir, c.Items = s.pipeline.Context()
	} else {
		c.Items = append([]string(nil), s.localItems...)
	}
	return c
}

// Status summarizes the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:        s.id,
		Dir:       s.dir,
		Remote:    s.remote,
		Target:    s.remoteTarget,
		CreatedAt: s.createdAt,
	}
	if s.remote {
		st.RemoteDir, _ = s.pipeline.Context()
	} else {
		st.Items = append([]string(nil), s.localItems...)
	}
	if s.active != nil {
		st.Running = true
		st.ActiveBlock = s.active.blockID
	}
	s.mu.Unlock()

	if req, ok := s.pending.peek(); ok {
		st.Pending = &req
	}
	st.Blocks = s.blocks.Len()
	st.Transfers = len(s.transfers.List())
	if s.recorder != nil {
		st.Recording = s.recorder.Path(s.id)
	}
	return st
}

// Pending returns the outstanding prompt request, if any.
func (s *Session) Pending() (PromptRequest, bool) {
	return s.pending.peek()
}

// Predict ranks suggestions for text against history and the current
// directory context.
func (s *Session) Predict(ctx context.Context, text string) predict.Result {
	recent, err := s.history.Recent(ctx, recentWindow)
	if err != nil {
		slog.Warn("history unavailable for prediction", slog.String("error", err.Error()))
	}
	frequent, err := s.history.Frequent(ctx, frequentWindow)
	if err != nil {
		slog.Warn("history unavailable for prediction", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	in := predict.Input{
		Text:     text,
		History:  recent,
		Frequent: frequent,
		Dir:      s.dir,
		Remote:   s.remote,
	}
	if s.remote {
		dir, items := s.pipeline.Context()
		in.RemoteItems = items
		if dir != "" {
			in.Dir = dir
		}
	}
	s.mu.Unlock()

	return s.predictor.Predict(in)
}

// UpdateConfig applies a reloaded configuration. Running blocks keep the
// limits they started with.
func (s *Session) UpdateConfig(cfg *config.Config) {
	detector, err := newDetector(cfg)
	if err != nil {
		slog.Warn("keeping previous prompt patterns", slog.String("error", err.Error()))
	}
	if err := s.filter.Update(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist); err != nil {
		slog.Warn("keeping previous command filter", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.cfg = cfg
	s.classifier = classify.New(cfg.Engine.InteractivePrograms...)
	if detector != nil {
		s.detector = detector
	}
	s.mu.Unlock()

	slog.Debug("session config updated", slog.String("session_id", s.id))
}

func (s *Session) onSettled(u output.Update) {
	s.mu.Lock()
	if !s.remote {
		s.mu.Unlock()
		return
	}
	changed := u.DirChanged || u.Cleared || !slices.Equal(u.Items, s.remoteItems)
	s.remoteItems = u.Items
	target := s.remoteTarget
	s.mu.Unlock()

	if changed {
		s.publish(Event{Type: EventContextChanged, Context: &Context{
			Dir:       u.Dir,
			Remote:    true,
			RemoteDir: u.Dir,
			Target:    target,
			Items:     u.Items,
		}})
	}
}

func (s *Session) refreshLoop(t ports.Ticker) {
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C():
			s.refresh()
		}
	}
}

// refresh relists the local directory and publishes a status event.
func (s *Session) refresh() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	dir, remote := s.dir, s.remote
	s.mu.Unlock()

	if !remote {
		items := s.listDir(dir)
		s.mu.Lock()
		if s.dir == dir {
			s.localItems = items
		}
		s.mu.Unlock()
	}
	s.limiter.Cleanup()

	st := s.Status()
	s.publish(Event{Type: EventStatus, Status: &st})
}

func (s *Session) listDir(dir string) []string {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		slog.Debug("list directory failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		items = append(items, name)
	}
	sort.Strings(items)
	return items
}

// Close terminates the running block, cancels transfers and ends every
// subscription. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	r := s.active
	s.mu.Unlock()

	if r != nil && r.proc != nil {
		if err := r.proc.Terminate(); err != nil {
			slog.Debug("terminate on close failed", slog.String("error", err.Error()))
		}
		<-r.done
	}
	s.pipeline.Stop()
	s.transfers.Close()
	s.pending.clear("")
	if s.recorder != nil {
		if err := s.recorder.Stop(s.id); err != nil {
			slog.Warn("close recording failed", slog.String("error", err.Error()))
		}
	}
	s.events.close()

	slog.Info("session closed", slog.String("session_id", s.id))
	return nil
}
