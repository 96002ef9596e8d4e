// Package output turns raw terminal output into lines, prompt-derived
// working directories and candidate filesystem item names.
package output

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// leftoverEscapes matches sequence fragments ansi.Strip cannot recognize
// once their ESC byte was lost or split off: bare OSC title payloads and
// CSI tails such as "[0m" or "[?2004h".
var leftoverEscapes = regexp.MustCompile(`\x1b|\][0-9]+;[^\x07]*\x07|\[\?[0-9;]*[a-zA-Z]|\[[0-9;]+[a-zA-Z]`)

// controlChars matches C0 control characters other than tab and newline.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

// StripANSI removes escape sequences, carriage returns and other control
// characters from s.
func StripANSI(s string) string {
	s = ansi.Strip(s)
	if strings.ContainsAny(s, "\x1b[]") {
		s = leftoverEscapes.ReplaceAllString(s, "")
	}
	return controlChars.ReplaceAllString(s, "")
}
