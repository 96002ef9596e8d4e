package predict

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sahilm/fuzzy"
)

// cdArgument returns the path typed after "cd ".
func cdArgument(text string) (string, bool) {
	t := strings.TrimLeft(text, " \t")
	if !strings.HasPrefix(t, "cd ") {
		return "", false
	}
	return strings.TrimLeft(t[len("cd "):], " \t"), true
}

// splitPartial separates "src/ma" into the typed directory "src/" and the
// segment being completed "ma".
func splitPartial(partial string) (dir, segment string) {
	i := strings.LastIndex(partial, "/")
	if i < 0 {
		return "", partial
	}
	return partial[:i+1], partial[i+1:]
}

// matchSegment reports whether item completes segment. Segments with glob
// metacharacters are matched as patterns; everything else by prefix.
// Both ignore case.
func matchSegment(segment, item string) bool {
	if segment == "" {
		return true
	}
	if strings.ContainsAny(segment, "*?[{") {
		pattern := strings.ToLower(segment)
		if !strings.HasSuffix(pattern, "*") {
			pattern += "*"
		}
		name := strings.ToLower(strings.TrimSuffix(item, "/"))
		ok, err := doublestar.Match(pattern, name)
		return err == nil && ok
	}
	return hasPrefixFold(item, segment)
}

func (e *Engine) directorySuggestions(in Input, partial string) []Suggestion {
	dir, segment := splitPartial(partial)

	var (
		items  []string
		source Source
		reason string
	)
	if in.Remote {
		// Remote listings only describe the current directory.
		if dir != "" {
			return nil
		}
		items, source, reason = in.RemoteItems, SourceRemoteDir, "remote directory"
	} else {
		items, source, reason = e.localDirs(in.Dir, dir), SourceLocalDir, "local directory"
	}

	var out []Suggestion
	for _, item := range items {
		if len(out) == dirMax {
			break
		}
		if strings.HasPrefix(item, ".") && !strings.HasPrefix(segment, ".") {
			continue
		}
		if !matchSegment(segment, item) {
			continue
		}
		out = append(out, Suggestion{
			Command:  "cd " + dir + item,
			Reason:   reason,
			Source:   source,
			Priority: dirTop - len(out)*dirStep,
		})
	}
	return out
}

// localDirs lists the subdirectories of typed, resolved against cwd.
func (e *Engine) localDirs(cwd, typed string) []string {
	target := typed
	if rest, ok := strings.CutPrefix(target, "~/"); ok || target == "~" {
		home, err := e.fs.UserHomeDir()
		if err != nil {
			return nil
		}
		target = filepath.Join(home, rest)
	}
	if !filepath.IsAbs(target) {
		if cwd == "" {
			return nil
		}
		target = filepath.Join(cwd, target)
	}

	entries, err := e.fs.ReadDir(target)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, ent := range entries {
		if ent.IsDir() {
			dirs = append(dirs, ent.Name()+"/")
		}
	}
	return dirs
}

// distinctNewestFirst walks history from the end, skipping repeats.
func distinctNewestFirst(history []string) []string {
	seen := make(map[string]bool, len(history))
	var out []string
	for i := len(history) - 1; i >= 0; i-- {
		cmd := strings.TrimSpace(history[i])
		if cmd == "" || seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, cmd)
	}
	return out
}

func recentSuggestions(in Input) []Suggestion {
	text := strings.TrimLeft(in.Text, " \t")
	var out []Suggestion
	for _, cmd := range distinctNewestFirst(in.History) {
		if len(out) == recentMax {
			break
		}
		if cmd == strings.TrimSpace(text) || !hasPrefixFold(cmd, text) {
			continue
		}
		out = append(out, Suggestion{
			Command:  cmd,
			Reason:   "recent command",
			Source:   SourceRecent,
			Priority: recentTop - len(out),
		})
	}
	return out
}

func fuzzySuggestions(in Input) []Suggestion {
	text := strings.TrimSpace(in.Text)
	if len(text) < 2 {
		return nil
	}

	seen := make(map[string]bool)
	var pool []string
	for _, cmd := range append(append([]string(nil), in.Frequent...), distinctNewestFirst(in.History)...) {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" || cmd == text || seen[cmd] {
			continue
		}
		seen[cmd] = true
		pool = append(pool, cmd)
	}

	var out []Suggestion
	for _, m := range fuzzy.Find(text, pool) {
		if len(out) == fuzzyMax {
			break
		}
		out = append(out, Suggestion{
			Command:  m.Str,
			Reason:   "similar to earlier command",
			Source:   SourceFrequent,
			Priority: fuzzyTop - len(out),
		})
	}
	return out
}

// sequentialSuggestions predicts what usually follows the last one or two
// commands in history.
func sequentialSuggestions(in Input) []Suggestion {
	h := make([]string, 0, len(in.History))
	for _, cmd := range in.History {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			h = append(h, cmd)
		}
	}
	if len(h) < 2 {
		return nil
	}
	text := strings.TrimLeft(in.Text, " \t")

	var out []Suggestion
	if len(h) >= 3 {
		last := h[len(h)-2:]
		next := followers(h, last)
		out = append(out, sequence(next, text, bigramTop,
			fmt.Sprintf("usually follows %q, %q", last[0], last[1]))...)
	}
	last := h[len(h)-1:]
	next := followers(h, last)
	out = append(out, sequence(next, text, unigramTop,
		fmt.Sprintf("usually follows %q", last[0]))...)
	return out
}

// followers returns the commands seen right after each earlier occurrence of
// seq, most frequent first, ties to the most recent.
func followers(h, seq []string) []string {
	type stat struct {
		count int
		last  int
	}
	stats := make(map[string]*stat)
	n := len(seq)
	// The final occurrence is the current tail and has no follower yet.
	for i := 0; i+n < len(h); i++ {
		match := true
		for j := range seq {
			if h[i+j] != seq[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		next := h[i+n]
		st, ok := stats[next]
		if !ok {
			st = &stat{}
			stats[next] = st
		}
		st.count++
		st.last = i
	}

	out := make([]string, 0, len(stats))
	for cmd := range stats {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := stats[out[i]], stats[out[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.last > b.last
	})
	return out
}

func sequence(next []string, text string, top int, reason string) []Suggestion {
	var out []Suggestion
	for _, cmd := range next {
		p := top - len(out)*sequenceStep
		if len(out) == sequenceMax || p < sequenceFloor {
			break
		}
		if !hasPrefixFold(cmd, text) {
			continue
		}
		out = append(out, Suggestion{
			Command:  cmd,
			Reason:   reason,
			Source:   SourceSequential,
			Priority: p,
		})
	}
	return out
}

// project is a detectable kind of working directory.
type project struct {
	name    string
	markers []string // files or directories in the working directory
	verbs   []string // history prefixes that imply it
	suggest string
}

var projects = []project{
	{"git repository", []string{".git"}, []string{"git "}, "git status"},
	{"go module", []string{"go.mod"}, []string{"go "}, "go test ./..."},
	{"node package", []string{"package.json"}, []string{"npm ", "yarn ", "pnpm "}, "npm run"},
	{"container project", []string{"docker-compose.yml", "compose.yaml", "Dockerfile"}, []string{"docker ", "docker-compose "}, "docker compose ps"},
	{"rust crate", []string{"Cargo.toml"}, []string{"cargo "}, "cargo build"},
	{"makefile project", []string{"Makefile"}, []string{"make"}, "make"},
}

// contextualSuggestion offers one command for the detected project type.
// Filesystem markers are only checked for local sessions.
func (e *Engine) contextualSuggestion(in Input) (Suggestion, bool) {
	text := strings.TrimLeft(in.Text, " \t")
	recent := in.History
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}

	for _, p := range projects {
		if !hasPrefixFold(p.suggest, text) || p.suggest == strings.TrimSpace(text) {
			continue
		}
		if e.detect(p, in, recent) {
			return Suggestion{
				Command:  p.suggest,
				Reason:   p.name + " detected",
				Source:   SourceContextual,
				Priority: contextual,
			}, true
		}
	}
	return Suggestion{}, false
}

func (e *Engine) detect(p project, in Input, recent []string) bool {
	if !in.Remote && in.Dir != "" {
		for _, m := range p.markers {
			if _, err := e.fs.Stat(filepath.Join(in.Dir, m)); err == nil {
				return true
			}
		}
	}
	for _, cmd := range recent {
		for _, v := range p.verbs {
			if strings.HasPrefix(strings.TrimSpace(cmd), v) {
				return true
			}
		}
	}
	return false
}
