package pty

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// ErrWriteTimeout is returned when the child does not accept input in time.
var ErrWriteTimeout = errors.New("pty write timed out")

// SentinelExitCode is reported when the exit status cannot be determined.
const SentinelExitCode = -1

// SpawnErrorKind classifies why a process could not start.
type SpawnErrorKind int

const (
	SpawnFailed SpawnErrorKind = iota
	SpawnNotFound
	SpawnPermission
)

func (k SpawnErrorKind) String() string {
	switch k {
	case SpawnNotFound:
		return "not_found"
	case SpawnPermission:
		return "permission_denied"
	default:
		return "failed"
	}
}

// SpawnError is returned when a child process cannot be started.
// No output callback ever fires for a command that produced a SpawnError.
type SpawnError struct {
	Command string
	Kind    SpawnErrorKind
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitCode maps the failure onto the exit status a shell would report.
func (e *SpawnError) ExitCode() int {
	switch e.Kind {
	case SpawnNotFound:
		return 127
	case SpawnPermission:
		return 126
	default:
		return 1
	}
}

// NewSpawnError classifies err for command.
func NewSpawnError(command string, err error) *SpawnError {
	kind := SpawnFailed
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		kind = SpawnNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = SpawnPermission
	}
	return &SpawnError{Command: command, Kind: kind, Err: err}
}
