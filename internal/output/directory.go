package output

import (
	"regexp"
	"strings"
)

// promptPath captures a "/" or "~" rooted path ending right before a
// trailing prompt character. A closing bracket, as in "[user@host ~]$", is not
// part of the path.
var promptPath = regexp.MustCompile(`([~/][^\s#$\])]*)[\])]?\s*[#$]\s*$`)

// IsShellPromptLine reports whether line looks like a shell prompt, i.e. it
// ends in "#" or "$" once trimmed.
func IsShellPromptLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasSuffix(t, "#") || strings.HasSuffix(t, "$")
}

// InferDirectory extracts the working directory from a prompt line such as
// "user@host:/var/www#". ok is false when line is not a prompt or carries no
// path.
func InferDirectory(line string) (dir string, ok bool) {
	if !IsShellPromptLine(line) {
		return "", false
	}
	m := promptPath.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	dir = m[1]

	// "~user@host:/srv" style leftovers: keep only the path after the colon.
	if at := strings.Index(dir, "@"); at >= 0 {
		if colon := strings.Index(dir[at:], ":"); colon >= 0 {
			dir = dir[at+colon+1:]
		}
	}
	if dir == "" || (dir[0] != '/' && dir[0] != '~') {
		return "", false
	}
	return dir, true
}

// DirContext is the inferred working directory plus the item names seen in
// output since the last directory change.
type DirContext struct {
	Dir   string
	Items ItemSet
}

// NewDirContext creates an empty context.
func NewDirContext() *DirContext {
	return &DirContext{Items: make(ItemSet)}
}

// SetDir stores dir and reports whether it differs from the stored value.
func (c *DirContext) SetDir(dir string) bool {
	if dir == c.Dir {
		return false
	}
	c.Dir = dir
	return true
}

// Reset forgets the directory and every item.
func (c *DirContext) Reset() {
	c.Dir = ""
	c.Items.Clear()
}
