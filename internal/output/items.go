package output

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	minLineLen  = 3
	minTokenLen = 2
	maxTokenLen = 60
)

var (
	numericToken  = regexp.MustCompile(`^\d+$`)
	titleFragment = regexp.MustCompile(`^\]?\d+;`)
)

// strayPunct is trimmed from both ends of a token. "/" is not in the set,
// so a trailing directory marker survives.
const strayPunct = "\"'`,;()[]{}<>|*=!?"

// ItemSet is a deduplicated set of item names.
type ItemSet map[string]struct{}

// Add inserts name.
func (s ItemSet) Add(name string) {
	s[name] = struct{}{}
}

// Clear removes every item.
func (s ItemSet) Clear() {
	for k := range s {
		delete(s, k)
	}
}

// Sorted returns the items in lexical order.
func (s ItemSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ExtractItems tokenizes already-stripped lines into items, adding them to
// set. A directory-changing command clears the set. It reports whether the
// set was cleared.
func ExtractItems(lines []string, set ItemSet) (cleared bool) {
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if len(line) < minLineLen {
			continue
		}

		nextIsPrompt := i+1 < len(lines) && IsShellPromptLine(lines[i+1])
		if isDirChange(line, nextIsPrompt) {
			set.Clear()
			cleared = true
			continue
		}

		for _, tok := range Tokenize(line) {
			set.Add(tok)
		}
	}
	return cleared
}

// isDirChange reports whether line holds a cd command that ran at a prompt:
// a prompt character before the cd token, or cd in command position with a
// prompt at the end of the line or on the following line. A "cd" entry in
// listing output is not in command position.
func isDirChange(line string, nextIsPrompt bool) bool {
	fields := strings.Fields(line)
	for i, f := range fields {
		if f != "cd" {
			continue
		}
		for _, before := range fields[:i] {
			if strings.HasSuffix(before, "#") || strings.HasSuffix(before, "$") {
				return true
			}
		}
		if commandPosition(fields, i) && (nextIsPrompt || IsShellPromptLine(line)) {
			return true
		}
	}
	return false
}

func commandPosition(fields []string, i int) bool {
	if i == 0 {
		return true
	}
	switch fields[i-1] {
	case "&&", "||", ";", "|":
		return true
	}
	return strings.HasSuffix(fields[i-1], ";")
}

// Tokenize splits one clean line into candidate item names.
func Tokenize(line string) []string {
	var out []string
	for _, f := range strings.Fields(line) {
		if tok, ok := cleanToken(f); ok {
			out = append(out, tok)
		}
	}
	return out
}

func cleanToken(tok string) (string, bool) {
	tok = strings.Trim(tok, strayPunct)
	if len(tok) < minTokenLen || len(tok) > maxTokenLen {
		return "", false
	}
	if numericToken.MatchString(tok) || titleFragment.MatchString(tok) {
		return "", false
	}
	if strings.ContainsAny(tok, "@:") {
		return "", false
	}
	if !strings.ContainsAny(tok, "._") && strings.IndexFunc(tok, unicode.IsLetter) < 0 {
		return "", false
	}
	return tok, true
}
