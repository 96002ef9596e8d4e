package session

import "errors"

var (
	// ErrClosed is returned by calls on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotFound is returned by Manager for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyCommand is returned when Dispatch gets only whitespace.
	ErrEmptyCommand = errors.New("empty command")

	// ErrNotRunning is returned when an operation needs a running block.
	ErrNotRunning = errors.New("no running block")

	// ErrRequestPending is returned when a prompt request is already
	// outstanding.
	ErrRequestPending = errors.New("prompt request already pending")

	// ErrNoPendingRequest is returned by RespondToPrompt when nothing is
	// waiting for an answer.
	ErrNoPendingRequest = errors.New("no pending prompt request")
)

// Exit codes for blocks that end without a normal process exit.
const (
	exitBlocked = 126
	exitTimeout = 124
	exitFailure = 1
)
