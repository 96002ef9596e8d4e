// Package transfer runs file uploads and downloads in the background, each
// in its own process with its own credential injection state.
package transfer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned for an unknown transfer ID.
var ErrNotFound = errors.New("transfer not found")

// Direction says which way a transfer copies.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Backend selects how files are moved.
type Backend string

const (
	// BackendPTY runs scp or rsync in a pseudo-terminal.
	BackendPTY Backend = "pty"
	// BackendSFTP streams files over an SFTP session.
	BackendSFTP Backend = "sftp"
)

// Request describes one transfer. The remote side is written as
// [user@]host:path. Upload sources may be doublestar globs.
type Request struct {
	Direction Direction
	Source    string
	Dest      string
	Dir       string // resolves relative local paths
}

// Transfer is a snapshot of one transfer.
type Transfer struct {
	ID        string        `json:"id"`
	Direction Direction     `json:"direction"`
	Backend   Backend       `json:"backend"`
	Source    string        `json:"source"`
	Dest      string        `json:"dest"`
	Command   string        `json:"command,omitempty"`
	Target    string        `json:"target,omitempty"`
	Status    Status        `json:"status"`
	Progress  float64       `json:"progress"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Hint      string        `json:"hint,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Log       string        `json:"log,omitempty"`
}

// remoteSpec is a parsed [user@]host:path operand.
type remoteSpec struct {
	user string
	host string
	path string
}

func (r remoteSpec) String() string {
	s := r.host + ":" + r.path
	if r.user != "" {
		s = r.user + "@" + s
	}
	return s
}

// parseRemote splits a [user@]host:path operand. Bracketed IPv6 hosts are
// accepted.
func parseRemote(s string) (remoteSpec, error) {
	var r remoteSpec
	if at := strings.LastIndex(s, "@"); at >= 0 {
		r.user = s[:at]
		s = s[at+1:]
	}

	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 || end+1 >= len(s) || s[end+1] != ':' {
			return remoteSpec{}, fmt.Errorf("invalid remote %q: want host:path", s)
		}
		r.host, r.path = s[1:end], s[end+2:]
	} else {
		host, path, ok := strings.Cut(s, ":")
		if !ok {
			return remoteSpec{}, fmt.Errorf("invalid remote %q: want host:path", s)
		}
		r.host, r.path = host, path
	}

	if r.host == "" {
		return remoteSpec{}, fmt.Errorf("invalid remote %q: empty host", s)
	}
	return r, nil
}
