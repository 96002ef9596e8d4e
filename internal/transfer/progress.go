package transfer

import (
	"fmt"
	"regexp"
	"strconv"
)

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// ParseProgress returns the last percentage in text as a fraction in
// [0, 1]. ok is false when text carries no percentage.
func ParseProgress(text string) (float64, bool) {
	matches := percentRe.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(matches[i][1])
		if err != nil || n > 100 {
			continue
		}
		return float64(n) / 100, true
	}
	return 0, false
}

// FailureHint maps a transfer program's exit code to advice. The raw code
// is always reported alongside.
func FailureHint(code int) string {
	switch code {
	case 0:
		return ""
	case 1, 2:
		return "transfer failed: check that the source exists and the destination is writable"
	case 5, 6:
		return "authentication failed: check the stored credential for this host"
	case 12:
		return "protocol stream error: the remote side closed the connection"
	case 23, 24:
		return "partial transfer: some files could not be copied"
	case 30, 35, 124:
		return "transfer timed out"
	case 126:
		return "transfer program is not executable"
	case 127:
		return "transfer program not found: install openssh-client or rsync"
	case 130, 137, 143:
		return "transfer was interrupted"
	case 255:
		return "ssh connection failed: host unreachable, host key mismatch or login refused"
	default:
		return fmt.Sprintf("transfer failed with exit code %d", code)
	}
}
