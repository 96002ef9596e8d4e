// Package classify decides whether a command needs an interactive
// pseudo-terminal or can run as a plain piped subprocess.
package classify

import (
	"strings"
)

// DefaultInteractivePrograms lists programs that only behave correctly when
// attached to a terminal: remote shells, privilege escalation, editors,
// pagers, REPLs, monitors, shells and multiplexers.
var DefaultInteractivePrograms = []string{
	"ssh", "sudo", "su",
	"vim", "vi", "nvim", "nano", "emacs",
	"less", "more", "man",
	"top", "htop",
	"python", "python3", "ipython", "node", "irb",
	"psql", "mysql", "redis-cli",
	"bash", "zsh", "sh", "fish",
	"tmux", "screen",
}

// interactiveFlags are tokens that explicitly request an interactive mode.
var interactiveFlags = []string{"-i", "--interactive", "-it", "-ti"}

// Decision is the result of classifying a command.
type Decision struct {
	NeedsPTY bool
	Program  string // matched allow-list entry, if any
	Reason   string
}

// Classifier matches commands against an allow-list of interactive programs.
// It holds no mutable state; every call depends only on the command text.
type Classifier struct {
	programs []string
}

// New creates a Classifier with the default allow-list plus extra programs.
func New(extra ...string) *Classifier {
	programs := make([]string, 0, len(DefaultInteractivePrograms)+len(extra))
	programs = append(programs, DefaultInteractivePrograms...)
	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			programs = append(programs, p)
		}
	}
	return &Classifier{programs: programs}
}

// Classify reports whether command needs a pseudo-terminal and why.
func (c *Classifier) Classify(command string) Decision {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return Decision{Reason: "empty command"}
	}

	// Prefix match on the whole command so "grep ssh file" is not a match.
	for _, p := range c.programs {
		if cmd == p || strings.HasPrefix(cmd, p+" ") {
			return Decision{
				NeedsPTY: true,
				Program:  p,
				Reason:   "'" + p + "' is an interactive program",
			}
		}
	}

	for _, tok := range strings.Fields(cmd) {
		for _, flag := range interactiveFlags {
			if tok == flag {
				return Decision{
					NeedsPTY: true,
					Reason:   "command requests interactive mode with " + flag,
				}
			}
		}
	}

	return Decision{Reason: "no interactive program or flag"}
}

var defaultClassifier = New()

// NeedsInteractiveTerminal reports whether command needs a pseudo-terminal
// using the default allow-list.
func NeedsInteractiveTerminal(command string) bool {
	return defaultClassifier.Classify(command).NeedsPTY
}
