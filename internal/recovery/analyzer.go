// Package recovery turns failed block output into short recovery hints.
package recovery

import (
	"regexp"
	"sort"
	"strings"
)

// Exit codes with a fixed meaning in the session.
const (
	ExitBlocked     = 126
	ExitNotFound    = 127
	ExitTimedOut    = 124
	ExitInterrupted = 130
)

// Hint is one recovery suggestion for a failed block.
type Hint struct {
	Category   string   `json:"category"`
	Summary    string   `json:"summary"`
	Commands   []string `json:"commands,omitempty"`
	Confidence float64  `json:"confidence"`
	Risky      bool     `json:"risky,omitempty"`
}

// String renders the hint as a single line for block display.
func (h Hint) String() string {
	if len(h.Commands) == 0 {
		return h.Summary
	}
	return h.Summary + " (try: " + strings.Join(h.Commands, "; ") + ")"
}

type rule struct {
	category   string
	pattern    *regexp.Regexp
	confidence float64
	risky      bool
	build      func(command string, m []string) (string, []string)
}

// Analyzer matches block output against known failure signatures.
type Analyzer struct {
	rules []rule
}

// NewAnalyzer returns an analyzer with the built-in rules.
func NewAnalyzer() *Analyzer {
	return &Analyzer{rules: builtinRules()}
}

// Analyze returns hints for a finished block, best first. Successful blocks
// get none.
func (a *Analyzer) Analyze(command string, lines []string, exitCode int) []Hint {
	if exitCode == 0 {
		return nil
	}

	var hints []Hint
	seen := make(map[string]bool)
	add := func(h Hint) {
		if seen[h.Category+h.Summary] {
			return
		}
		seen[h.Category+h.Summary] = true
		hints = append(hints, h)
	}

	text := strings.Join(lines, "\n")
	for _, r := range a.rules {
		m := r.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		summary, cmds := r.build(command, m)
		add(Hint{Category: r.category, Summary: summary, Commands: cmds, Confidence: r.confidence, Risky: r.risky})
	}

	if h, ok := exitCodeHint(command, exitCode); ok {
		add(h)
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return hints[i].Confidence > hints[j].Confidence
	})
	return hints
}

// Lines is Analyze rendered with Hint.String.
func (a *Analyzer) Lines(command string, lines []string, exitCode int) []string {
	hints := a.Analyze(command, lines, exitCode)
	if len(hints) == 0 {
		return nil
	}
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.String()
	}
	return out
}

func exitCodeHint(command string, code int) (Hint, bool) {
	switch code {
	case ExitNotFound:
		prog := program(command)
		return Hint{
			Category:   "package",
			Summary:    "command not found: " + prog,
			Commands:   []string{"which " + prog},
			Confidence: 0.5,
		}, true
	case ExitBlocked:
		return Hint{
			Category:   "permission",
			Summary:    "command could not be executed",
			Confidence: 0.4,
		}, true
	case ExitTimedOut:
		return Hint{
			Category:   "timeout",
			Summary:    "command hit its time limit; raise engine.command_timeout or run it in the background",
			Confidence: 0.6,
		}, true
	}
	return Hint{}, false
}

func program(command string) string {
	fields := strings.Fields(command)
	for _, f := range fields {
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "=") {
			continue
		}
		if f == "sudo" || f == "env" || f == "exec" {
			continue
		}
		if i := strings.LastIndex(f, "/"); i >= 0 {
			return f[i+1:]
		}
		return f
	}
	return command
}

func builtinRules() []rule {
	return []rule{
		{
			category:   "permission",
			pattern:    regexp.MustCompile(`(?i)permission denied|operation not permitted|EACCES`),
			confidence: 0.8,
			risky:      true,
			build: func(command string, _ []string) (string, []string) {
				if strings.HasPrefix(strings.TrimSpace(command), "sudo ") {
					return "permission denied even with sudo; check ownership and mode", []string{"ls -ld ."}
				}
				return "permission denied; the operation may need elevated privileges", []string{"sudo " + command}
			},
		},
		{
			category:   "package",
			pattern:    regexp.MustCompile(`(?im)(\S+): command not found$|command not found: (\S+)|(\S+): not found$`),
			confidence: 0.75,
			build: func(_ string, m []string) (string, []string) {
				prog := firstNonEmpty(m[1:]...)
				return "command not found: " + prog, installCommands(prog)
			},
		},
		{
			category:   "network",
			pattern:    regexp.MustCompile(`(?i)connection refused`),
			confidence: 0.7,
			build: func(string, []string) (string, []string) {
				return "connection refused; check the service is running and the port is open", nil
			},
		},
		{
			category:   "network",
			pattern:    regexp.MustCompile(`(?i)could not resolve hostname (\S+?):|name or service not known`),
			confidence: 0.7,
			build: func(_ string, m []string) (string, []string) {
				if m[1] != "" {
					return "host name " + m[1] + " does not resolve", []string{"getent hosts " + m[1]}
				}
				return "host name does not resolve", nil
			},
		},
		{
			category:   "network",
			pattern:    regexp.MustCompile(`(?i)connection timed out|operation timed out`),
			confidence: 0.6,
			build: func(string, []string) (string, []string) {
				return "connection timed out; the host may be down or filtered", nil
			},
		},
		{
			category:   "security",
			pattern:    regexp.MustCompile(`(?i)REMOTE HOST IDENTIFICATION HAS CHANGED`),
			confidence: 0.85,
			risky:      true,
			build: func(command string, _ []string) (string, []string) {
				host := sshHost(command)
				if host == "" {
					host = "<host>"
				}
				return "host key changed; only remove the old key if you trust the host", []string{"ssh-keygen -R " + host}
			},
		},
		{
			category:   "auth",
			pattern:    regexp.MustCompile(`(?i)authentication failed|too many authentication failures|\(publickey[^)]*\)`),
			confidence: 0.65,
			build: func(string, []string) (string, []string) {
				return "authentication failed; check the stored credential with `blockterm credential set`", nil
			},
		},
		{
			category:   "disk",
			pattern:    regexp.MustCompile(`(?i)no space left on device|disk quota exceeded`),
			confidence: 0.9,
			build: func(string, []string) (string, []string) {
				return "disk full", []string{"df -h", "du -sh * | sort -h | tail"}
			},
		},
		{
			category:   "filesystem",
			pattern:    regexp.MustCompile(`(?i)no such file or directory`),
			confidence: 0.55,
			build: func(string, []string) (string, []string) {
				return "a path does not exist; check spelling and the working directory", []string{"pwd", "ls -la"}
			},
		},
		{
			category:   "git",
			pattern:    regexp.MustCompile(`(?i)fatal: not a git repository`),
			confidence: 0.9,
			build: func(string, []string) (string, []string) {
				return "not inside a git repository", []string{"git init"}
			},
		},
		{
			category:   "network",
			pattern:    regexp.MustCompile(`(?i)(?:address already in use|EADDRINUSE)(?:\D*(\d{2,5}))?`),
			confidence: 0.85,
			build: func(_ string, m []string) (string, []string) {
				if m[1] == "" {
					return "port already in use", nil
				}
				return "port " + m[1] + " already in use", []string{"lsof -i :" + m[1]}
			},
		},
		{
			category:   "service",
			pattern:    regexp.MustCompile(`(?i)cannot connect to the docker daemon`),
			confidence: 0.9,
			risky:      true,
			build: func(string, []string) (string, []string) {
				return "docker daemon is not running", []string{"sudo systemctl start docker"}
			},
		},
	}
}

var installs = map[string]string{
	"node":   "nodejs",
	"python": "python3",
	"pip":    "python3-pip",
	"docker": "docker.io",
	"make":   "build-essential",
	"gcc":    "build-essential",
	"go":     "golang",
	"rg":     "ripgrep",
}

func installCommands(prog string) []string {
	pkg := prog
	if p, ok := installs[prog]; ok {
		pkg = p
	}
	return []string{"sudo apt install " + pkg, "brew install " + pkg}
}

func sshHost(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 || (fields[0] != "ssh" && fields[0] != "scp" && fields[0] != "sftp") {
		return ""
	}
	for i := 1; i < len(fields); i++ {
		f := fields[i]
		if strings.HasPrefix(f, "-") {
			if len(f) == 2 && strings.ContainsRune("pPiloFJ", rune(f[1])) {
				i++
			}
			continue
		}
		if i := strings.LastIndex(f, "@"); i >= 0 {
			f = f[i+1:]
		}
		if i := strings.Index(f, ":"); i >= 0 {
			f = f[:i]
		}
		return f
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
