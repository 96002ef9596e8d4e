// Package history keeps completed commands for prediction. MemoryStore is
// used by tests and ephemeral sessions; SQLiteStore persists across runs.
package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
)

// DefaultLimit is how many commands a store keeps when none is configured.
const DefaultLimit = 5000

// MemoryStore is an in-memory HistoryManager capped at a fixed number of
// commands; the oldest are evicted first.
type MemoryStore struct {
	mu      sync.Mutex
	records []ports.CommandRecord
	limit   int
}

// NewMemoryStore creates a store keeping at most limit commands.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{limit: limit}
}

// AddCommand appends rec. Blank commands are ignored.
func (s *MemoryStore) AddCommand(ctx context.Context, rec ports.CommandRecord) error {
	rec.Command = strings.TrimSpace(rec.Command)
	if rec.Command == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append([]ports.CommandRecord(nil), s.records[over:]...)
	}
	return nil
}

// Recent returns the last limit commands, oldest first. limit <= 0 returns
// everything.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if limit > 0 && len(s.records) > limit {
		start = len(s.records) - limit
	}
	out := make([]string, 0, len(s.records)-start)
	for _, r := range s.records[start:] {
		out = append(out, r.Command)
	}
	return out, nil
}

// Frequent returns distinct commands by use count; ties go to the one used
// most recently.
func (s *MemoryStore) Frequent(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	type stat struct {
		cmd   string
		count int
		last  int
	}
	stats := make(map[string]*stat)
	for i, r := range s.records {
		st, ok := stats[r.Command]
		if !ok {
			st = &stat{cmd: r.Command}
			stats[r.Command] = st
		}
		st.count++
		st.last = i
	}
	s.mu.Unlock()

	list := make([]*stat, 0, len(stats))
	for _, st := range stats {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].last > list[j].last
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	out := make([]string, len(list))
	for i, st := range list {
		out[i] = st.cmd
	}
	return out, nil
}

// Records returns a copy of everything stored, oldest first.
func (s *MemoryStore) Records() []ports.CommandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.CommandRecord(nil), s.records...)
}

var _ ports.HistoryManager = (*MemoryStore)(nil)
