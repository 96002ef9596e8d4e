// Package predict ranks command suggestions for the text being typed.
//
// Predict is a pure function of its Input plus, for local sessions, a
// directory listing read through ports.FileSystem. The same input always
// gives the same ranking.
package predict

import (
	"sort"
	"strings"

	"github.com/acolita/blockterm/internal/adapters/realfs"
	"github.com/acolita/blockterm/internal/ports"
)

// MaxSuggestions caps a Result.
const MaxSuggestions = 8

// Source says where a suggestion came from.
type Source string

const (
	SourceRemoteDir  Source = "remote_directory"
	SourceLocalDir   Source = "local_directory"
	SourceRecent     Source = "recent"
	SourceSequential Source = "sequential"
	SourceFrequent   Source = "frequent"
	SourceContextual Source = "contextual"
)

// precedence breaks priority ties; higher wins.
var precedence = map[Source]int{
	SourceRemoteDir:  6,
	SourceLocalDir:   5,
	SourceRecent:     4,
	SourceSequential: 3,
	SourceFrequent:   2,
	SourceContextual: 1,
}

// Priority bands.
const (
	dirTop        = 150
	dirStep       = 3
	dirMax        = 10
	recentTop     = 100
	recentMax     = 5
	bigramTop     = 80
	unigramTop    = 70
	sequenceStep  = 2
	sequenceFloor = 60
	sequenceMax   = 3
	fuzzyTop      = 50
	fuzzyMax      = 6
	contextual    = 40
)

// Suggestion is one ranked completion.
type Suggestion struct {
	Command  string `json:"command"`
	Reason   string `json:"reason"`
	Source   Source `json:"source"`
	Priority int    `json:"priority"`
}

// Input is everything a prediction depends on.
type Input struct {
	Text string

	// History is the recent command history, oldest first.
	History []string

	// Frequent lists commands by use count, most used first. Optional.
	Frequent []string

	Dir         string
	RemoteItems []string
	Remote      bool
}

// Result is a ranked, deduplicated suggestion list.
type Result struct {
	Suggestions []Suggestion `json:"suggestions"`

	// Ghost is the inline completion: the rest of the top suggestion after
	// the typed text, or empty.
	Ghost string `json:"ghost,omitempty"`
}

// Engine produces predictions.
type Engine struct {
	fs ports.FileSystem
}

// New creates an engine. A nil fsys uses the real filesystem.
func New(fsys ports.FileSystem) *Engine {
	if fsys == nil {
		fsys = realfs.New()
	}
	return &Engine{fs: fsys}
}

// Predict ranks suggestions for in.
func (e *Engine) Predict(in Input) Result {
	var all []Suggestion
	if partial, ok := cdArgument(in.Text); ok {
		all = append(all, e.directorySuggestions(in, partial)...)
	}
	all = append(all, recentSuggestions(in)...)
	all = append(all, sequentialSuggestions(in)...)
	all = append(all, fuzzySuggestions(in)...)
	if s, ok := e.contextualSuggestion(in); ok {
		all = append(all, s)
	}

	ranked := rank(all)
	return Result{Suggestions: ranked, Ghost: ghost(in.Text, ranked)}
}

// rank deduplicates by trimmed command, keeping the best instance, and
// returns at most MaxSuggestions sorted by priority.
func rank(all []Suggestion) []Suggestion {
	best := make(map[string]int)
	var out []Suggestion
	for _, s := range all {
		s.Command = strings.TrimSpace(s.Command)
		if s.Command == "" {
			continue
		}
		i, seen := best[s.Command]
		if !seen {
			best[s.Command] = len(out)
			out = append(out, s)
			continue
		}
		if better(s, out[i]) {
			out[i] = s
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return better(out[i], out[j]) })
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

func better(a, b Suggestion) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return precedence[a.Source] > precedence[b.Source]
}

func ghost(text string, ranked []Suggestion) string {
	if text == "" || len(ranked) == 0 {
		return ""
	}
	top := ranked[0].Command
	if len(top) <= len(text) || !strings.EqualFold(top[:len(text)], text) {
		return ""
	}
	return top[len(text):]
}

// hasPrefixFold is a case-insensitive strings.HasPrefix.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
