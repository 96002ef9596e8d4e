package block

import (
	"fmt"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/google/uuid"
)

// DefaultMaxLines caps each block's retained output.
const DefaultMaxLines = 10000

// Manager owns the blocks of one session.
type Manager struct {
	mu       sync.Mutex
	clock    ports.Clock
	maxLines int
	blocks   []*Block
	byID     map[string]*Block
}

// NewManager creates a block manager. A non-positive maxLines uses
// DefaultMaxLines.
func NewManager(clock ports.Clock, maxLines int) *Manager {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Manager{
		clock:    clock,
		maxLines: maxLines,
		byID:     make(map[string]*Block),
	}
}

// Create records a new idle block for command run in dir.
func (m *Manager) Create(command, dir string) Block {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := &Block{
		ID:      uuid.NewString(),
		Command: command,
		Status:  StatusIdle,
		Dir:     dir,
	}
	m.blocks = append(m.blocks, b)
	m.byID[b.ID] = b
	return b.clone()
}

// Start moves an idle block to running.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	if b.Status != StatusIdle {
		return fmt.Errorf("start %s from %s: %w", id, b.Status, ErrInvalidTransition)
	}
	b.Status = StatusRunning
	b.StartedAt = m.clock.Now()
	return nil
}

// Append adds output lines to a running block, evicting the oldest lines
// beyond the cap.
func (m *Manager) Append(id string, lines ...Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	if b.Status != StatusRunning {
		return fmt.Errorf("append to %s block %s: %w", b.Status, id, ErrInvalidTransition)
	}
	m.appendLocked(b, lines)
	return nil
}

func (m *Manager) appendLocked(b *Block, lines []Line) {
	b.Output = append(b.Output, lines...)
	if excess := len(b.Output) - m.maxLines; excess > 0 {
		// Reslice; the next growing append copies only the retained window.
		clear(b.Output[:excess])
		b.Output = b.Output[excess:]
		b.Dropped += excess
	}
}

// Finalize ends a running block with the process exit code: success for 0,
// error otherwise.
func (m *Manager) Finalize(id string, exitCode int) error {
	status := StatusSuccess
	if exitCode != 0 {
		status = StatusError
	}
	return m.finish(id, status, exitCode, nil)
}

// Fail ends a running block as error with a synthetic error line, for
// failures that happen before or instead of a normal exit.
func (m *Manager) Fail(id, message string, exitCode int) error {
	return m.finish(id, StatusError, exitCode, &Line{Text: message, IsError: true})
}

func (m *Manager) finish(id string, status Status, exitCode int, line *Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	if b.Status != StatusRunning {
		return fmt.Errorf("finish %s from %s: %w", id, b.Status, ErrInvalidTransition)
	}
	if line != nil {
		m.appendLocked(b, []Line{*line})
	}
	now := m.clock.Now()
	b.Status = status
	b.ExitCode = &exitCode
	b.EndedAt = &now
	return nil
}

// SetHints attaches recovery hints to a block.
func (m *Manager) SetHints(id string, hints []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	b.Hints = append([]string(nil), hints...)
	return nil
}

// ToggleCollapse flips the block's display-only collapse flag.
func (m *Manager) ToggleCollapse(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return err
	}
	b.Collapsed = !b.Collapsed
	return nil
}

// Get returns a copy of the block.
func (m *Manager) Get(id string) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(id)
	if err != nil {
		return Block{}, err
	}
	return b.clone(), nil
}

// Active returns the most recent running block.
func (m *Manager) Active() (Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.blocks) - 1; i >= 0; i-- {
		if m.blocks[i].Status == StatusRunning {
			return m.blocks[i].clone(), true
		}
	}
	return Block{}, false
}

// Snapshot returns copies of every block in creation order.
func (m *Manager) Snapshot() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Block, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.clone()
	}
	return out
}

// Clear removes every block that is not running and returns how many were
// removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.blocks[:0]
	removed := 0
	for _, b := range m.blocks {
		if b.Status == StatusRunning {
			kept = append(kept, b)
			continue
		}
		delete(m.byID, b.ID)
		removed++
	}
	for i := len(kept); i < len(m.blocks); i++ {
		m.blocks[i] = nil
	}
	m.blocks = kept
	return removed
}

// Len returns the number of blocks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

func (m *Manager) lookup(id string) (*Block, error) {
	b, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("block %s: %w", id, ErrNotFound)
	}
	return b, nil
}
