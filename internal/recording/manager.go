package recording

import (
	"log/slog"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
)

// Manager owns one recorder per session. A disabled manager accepts every
// call and records nothing.
type Manager struct {
	mu        sync.RWMutex
	recorders map[string]*Recorder
	dir       string
	enabled   bool
	fs        ports.FileSystem
	clock     ports.Clock
}

// NewManager creates a manager writing into dir.
func NewManager(dir string, enabled bool, fs ports.FileSystem, clock ports.Clock) *Manager {
	return &Manager{
		recorders: make(map[string]*Recorder),
		dir:       dir,
		enabled:   enabled,
		fs:        fs,
		clock:     clock,
	}
}

// Enabled reports whether sessions are recorded.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Start opens a recording for sessionID, replacing any previous one, and
// returns its path.
func (m *Manager) Start(sessionID string, opts Options) (string, error) {
	if !m.enabled {
		return "", nil
	}

	rec, err := NewRecorder(m.dir, sessionID, opts, m.fs, m.clock)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	old := m.recorders[sessionID]
	m.recorders[sessionID] = rec
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	slog.Debug("recording started",
		slog.String("session_id", sessionID),
		slog.String("path", rec.Path()),
	)
	return rec.Path(), nil
}

func (m *Manager) get(sessionID string) *Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorders[sessionID]
}

// Output records child output for a session.
func (m *Manager) Output(sessionID, data string) {
	if rec := m.get(sessionID); rec != nil {
		m.report(sessionID, rec.Output(data))
	}
}

// Input records input for a session.
func (m *Manager) Input(sessionID, data string, masked bool) {
	if rec := m.get(sessionID); rec != nil {
		m.report(sessionID, rec.Input(data, masked))
	}
}

// Marker records a block boundary for a session.
func (m *Manager) Marker(sessionID, label string) {
	if rec := m.get(sessionID); rec != nil {
		m.report(sessionID, rec.Marker(label))
	}
}

// Mask registers a secret for a session's recording.
func (m *Manager) Mask(sessionID, secret string) {
	if rec := m.get(sessionID); rec != nil {
		rec.Mask(secret)
	}
}

func (m *Manager) report(sessionID string, err error) {
	if err != nil {
		slog.Warn("recording write failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Path returns the recording path for a session, or "".
func (m *Manager) Path(sessionID string) string {
	if rec := m.get(sessionID); rec != nil {
		return rec.Path()
	}
	return ""
}

// Stop closes a session's recording.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	rec := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()

	if rec == nil {
		return nil
	}
	return rec.Close()
}

// CloseAll closes every recording.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	recs := m.recorders
	m.recorders = make(map[string]*Recorder)
	m.mu.Unlock()

	for _, rec := range recs {
		rec.Close()
	}
}
