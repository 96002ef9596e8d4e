package mcp

import "time"

// Common parameter descriptions and error messages used across tools.
const (
	descSessionID  = "The session ID returned by session_create"
	descTransferID = "The transfer ID returned by transfer_start"

	errSessionIDRequired  = "session_id is required"
	errTransferIDRequired = "transfer_id is required"
	errCommandRequired    = "command is required"
)

// Defaults for block_run.
const (
	defaultWaitMs    = 30000
	maxWait          = 10 * time.Minute
	defaultTailLines = 200
)

// Result statuses beyond the block statuses.
const (
	statusAwaitingInput = "awaiting_input"
)
