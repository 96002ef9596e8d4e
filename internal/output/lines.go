package output

import "strings"

// LineAssembler joins unaligned chunks into complete lines.
type LineAssembler struct {
	partial strings.Builder
}

// Push adds text and returns the lines it completed, without their line
// terminators.
func (a *LineAssembler) Push(text string) []string {
	var lines []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		a.partial.WriteString(text[:i])
		lines = append(lines, strings.TrimSuffix(a.partial.String(), "\r"))
		a.partial.Reset()
		text = text[i+1:]
	}
	a.partial.WriteString(text)
	return lines
}

// Partial returns the unterminated tail.
func (a *LineAssembler) Partial() string {
	return strings.TrimSuffix(a.partial.String(), "\r")
}

// Flush returns and clears the unterminated tail; ok is false when empty.
func (a *LineAssembler) Flush() (line string, ok bool) {
	line = a.Partial()
	a.partial.Reset()
	return line, line != ""
}
