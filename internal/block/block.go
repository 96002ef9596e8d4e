// Package block tracks every dispatched command as a Block with an
// append-only, capped output log and a one-way status lifecycle.
package block

import (
	"errors"
	"time"
)

// Status is a Block's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

var (
	// ErrNotFound is returned for unknown block ids.
	ErrNotFound = errors.New("block not found")

	// ErrInvalidTransition is returned when a status change would break
	// idle -> running -> success|error.
	ErrInvalidTransition = errors.New("invalid block status transition")
)

// Line is one line of block output.
type Line struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
}

// Block is one tracked command execution. Values returned by Manager are
// copies and safe to keep.
type Block struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Output    []Line     `json:"output"`
	Status    Status     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Dir       string     `json:"dir,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Dropped   int        `json:"dropped_lines,omitempty"`
	Collapsed bool       `json:"collapsed,omitempty"`
	Hints     []string   `json:"hints,omitempty"`
}

// Duration is the elapsed time between start and end, or zero while the
// block has not ended.
func (b Block) Duration() time.Duration {
	if b.EndedAt == nil || b.StartedAt.IsZero() {
		return 0
	}
	return b.EndedAt.Sub(b.StartedAt)
}

// Text joins the output lines with newlines.
func (b Block) Text() string {
	n := 0
	for _, l := range b.Output {
		n += len(l.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, l := range b.Output {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l.Text...)
	}
	return string(buf)
}

func (b *Block) clone() Block {
	c := *b
	c.Output = append([]Line(nil), b.Output...)
	c.Hints = append([]string(nil), b.Hints...)
	if b.ExitCode != nil {
		code := *b.ExitCode
		c.ExitCode = &code
	}
	if b.EndedAt != nil {
		t := *b.EndedAt
		c.EndedAt = &t
	}
	return c
}
