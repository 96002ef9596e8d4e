package mcp

import (
	"strings"

	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/session"
)

// blockResult is what block_run and block_list return for a single block.
type blockResult struct {
	BlockID    string                 `json:"block_id"`
	Command    string                 `json:"command"`
	Status     string                 `json:"status"`
	ExitCode   *int                   `json:"exit_code,omitempty"`
	Dir        string                 `json:"dir"`
	Output     string                 `json:"output"`
	Errors     []string               `json:"errors,omitempty"`
	TotalLines int                    `json:"total_lines"`
	ShownLines int                    `json:"shown_lines"`
	Truncated  bool                   `json:"truncated,omitempty"`
	Dropped    int                    `json:"dropped_lines,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
	Hints      []string               `json:"hints,omitempty"`
	Prompt     *session.PromptRequest `json:"prompt,omitempty"`
	Context    session.Context        `json:"context"`
}

func newBlockResult(sess *session.Session, b block.Block, tailLines int) blockResult {
	r := blockResult{
		BlockID:    b.ID,
		Command:    b.Command,
		Status:     string(b.Status),
		ExitCode:   b.ExitCode,
		Dir:        b.Dir,
		TotalLines: len(b.Output),
		Dropped:    b.Dropped,
		DurationMs: b.Duration().Milliseconds(),
		Hints:      b.Hints,
		Context:    sess.Context(),
	}

	lines := b.Output
	if tailLines > 0 && len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
		r.Truncated = true
	}
	r.ShownLines = len(lines)
	r.Output = joinLines(lines)
	for _, l := range b.Output {
		if l.IsError {
			r.Errors = append(r.Errors, l.Text)
		}
	}

	if req, ok := sess.Pending(); ok && req.BlockID == b.ID {
		r.Status = statusAwaitingInput
		r.Prompt = &req
	}
	return r
}

// blockSummary is one row of block_list.
type blockSummary struct {
	BlockID    string   `json:"block_id"`
	Command    string   `json:"command"`
	Status     string   `json:"status"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	Lines      int      `json:"lines"`
	DurationMs int64    `json:"duration_ms"`
	Hints      []string `json:"hints,omitempty"`
	LastLine   string   `json:"last_line,omitempty"`
}

func newBlockSummary(b block.Block) blockSummary {
	s := blockSummary{
		BlockID:    b.ID,
		Command:    b.Command,
		Status:     string(b.Status),
		ExitCode:   b.ExitCode,
		Lines:      len(b.Output),
		DurationMs: b.Duration().Milliseconds(),
		Hints:      b.Hints,
	}
	if n := len(b.Output); n > 0 {
		s.LastLine = b.Output[n-1].Text
	}
	return s
}

func joinLines(lines []block.Line) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}
