package transfer

import (
	"strings"
	"unicode/utf8"
)

// DefaultLogBudget caps the raw log kept per transfer.
const DefaultLogBudget = 64 * 1024

// logBuffer keeps raw output under a byte budget, dropping the oldest half
// whenever the budget is exceeded.
type logBuffer struct {
	budget  int
	buf     strings.Builder
	evicted int
}

func newLogBuffer(budget int) *logBuffer {
	if budget <= 0 {
		budget = DefaultLogBudget
	}
	return &logBuffer{budget: budget}
}

func (l *logBuffer) Write(text string) {
	l.buf.WriteString(text)
	for l.buf.Len() > l.budget {
		s := l.buf.String()
		cut := len(s) / 2
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		l.evicted += cut
		l.buf.Reset()
		l.buf.WriteString(s[cut:])
	}
}

func (l *logBuffer) String() string {
	return l.buf.String()
}

// Evicted returns how many bytes were dropped.
func (l *logBuffer) Evicted() int {
	return l.evicted
}
