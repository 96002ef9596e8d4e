package ports

import (
	"context"
	"time"
)

// CommandRecord is one completed command handed to the history manager.
type CommandRecord struct {
	Command   string
	ExitCode  int
	Dir       string
	Remote    bool
	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether the command exited non-zero.
func (r CommandRecord) Failed() bool {
	return r.ExitCode != 0
}

// HistoryManager stores completed commands and ranks them for prediction.
type HistoryManager interface {
	// AddCommand appends a completed command.
	AddCommand(ctx context.Context, rec CommandRecord) error

	// Recent returns up to limit commands in chronological order (oldest first).
	Recent(ctx context.Context, limit int) ([]string, error)

	// Frequent returns up to limit distinct commands, most used first.
	Frequent(ctx context.Context, limit int) ([]string, error)
}
