package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/acolita/blockterm/internal/config"
)

// CreateOptions are per-session overrides.
type CreateOptions struct {
	Dir string
}

// Manager owns every live session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      *config.Config
	base     Options
}

// NewManager returns a manager whose sessions share base's dependencies.
func NewManager(cfg *config.Config, base Options) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		base:     base,
	}
}

// Create starts a new session.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := m.base
	o.ID = ""
	o.Config = m.cfg
	if opts.Dir != "" {
		o.Dir = opts.Dir
	}
	s, err := New(o)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.sessions[s.ID()] = s
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
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
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Close()
}

// List returns the status of every session, oldest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			slog.Warn("close session failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// UpdateConfig applies cfg to new and existing sessions.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.UpdateConfig(cfg)
	}
	slog.Info("configuration applied", slog.Int("sessions", len(sessions)))
}
