// Package fakesessionmgr provides a session manager backed by fake engines
// for testing MCP handlers.
package fakesessionmgr

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/session"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeclock"
	"github.com/acolita/blockterm/internal/testing/fakes/fakecreds"
	"github.com/acolita/blockterm/internal/testing/fakes/fakeengine"
	"github.com/acolita/blockterm/internal/testing/fakes/fakefs"
)

// Home is the home directory of the fake filesystem.
const Home = "/home/test"

// Manager creates real sessions wired to fakes. Every session shares the
// same engine, clock, filesystem and credential store.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	nextID   int
	cfg      *config.Config

	Engine *fakeengine.Engine
	Clock  *fakeclock.Clock
	FS     *fakefs.FS
	Store  *fakecreds.Store

	// CreateErr, when set, is returned by the next Create.
	CreateErr error
	// Creates records every Create call.
	Creates []session.CreateOptions
	// Updates counts UpdateConfig calls.
	Updates int
}

// New creates a manager with an empty fake world rooted at Home.
func New() *Manager {
	fs := fakefs.New()
	fs.AddDir(Home)
	fs.SetEnv("USER", "alice")

	cfg := config.DefaultConfig()
	cfg.Engine.RefreshInterval = 0

	return &Manager{
		sessions: make(map[string]*session.Session),
		cfg:      cfg,
		Engine:   fakeengine.New(),
		Clock:    fakeclock.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		FS:       fs,
		Store:    fakecreds.New(),
	}
}

// Config returns the configuration new sessions get; tests may edit it
// before calling Create.
func (m *Manager) Config() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Create starts a session with a predictable id: sess-1, sess-2, ...
func (m *Manager) Create(opts session.CreateOptions) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Creates = append(m.Creates, opts)
	if m.CreateErr != nil {
		err := m.CreateErr
		m.CreateErr = nil
		return nil, err
	}

	m.nextID++
	s, err := session.New(session.Options{
		ID:     fmt.Sprintf("sess-%d", m.nextID),
		Config: m.cfg,
		Engine: m.Engine,
		Clock:  m.Clock,
		FS:     m.FS,
		Store:  m.Store,
		Dir:    opts.Dir,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	return s, nil
}

// Close closes and forgets one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	return s.Close()
}

// List returns session statuses ordered by id.
func (m *Manager) List() []session.Status {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]session.Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// UpdateConfig records the call and applies cfg to every session.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.Updates++
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.UpdateConfig(cfg)
	}
}
