package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/session"
	"github.com/acolita/blockterm/internal/transfer"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(sessionCreateTool(), s.handleSessionCreate)
	s.mcpServer.AddTool(blockRunTool(), s.handleBlockRun)
	s.mcpServer.AddTool(blockListTool(), s.handleBlockList)
	s.mcpServer.AddTool(blockInterruptTool(), s.handleBlockInterrupt)
	s.mcpServer.AddTool(promptRespondTool(), s.handlePromptRespond)
	s.mcpServer.AddTool(predictTool(), s.handlePredict)
	s.mcpServer.AddTool(transferStartTool(), s.handleTransferStart)
	s.mcpServer.AddTool(transferStatusTool(), s.handleTransferStatus)
	s.mcpServer.AddTool(transferCancelTool(), s.handleTransferCancel)
	s.mcpServer.AddTool(sessionCloseTool(), s.handleSessionClose)
}

// Tool definitions

func sessionCreateTool() mcp.Tool {
	return mcp.NewTool("session_create",
		mcp.WithDescription("Start a command session. Each command runs as its own block; ssh sessions opened inside it are tracked as remote context."),
		mcp.WithString("dir",
			mcp.Description("Initial working directory (default: home)"),
		),
	)
}

func blockRunTool() mcp.Tool {
	return mcp.NewTool("block_run",
		mcp.WithDescription("Run a command as a new block, or send a line of input to the block that is still running"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command line, or input for the running block"),
		),
		mcp.WithNumber("wait_ms",
			mcp.Description("How long to wait for the block to finish or prompt (default: 30000, 0 returns immediately)"),
		),
		mcp.WithNumber("tail_lines",
			mcp.Description("Return only the last N output lines (default: 200)"),
		),
	)
}

func blockListTool() mcp.Tool {
	return mcp.NewTool("block_list",
		mcp.WithDescription("List the session's blocks with status, exit code and recovery hints"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("block_id",
			mcp.Description("Return only this block, with its full output"),
		),
		mcp.WithBoolean("clear",
			mcp.Description("Drop finished blocks after listing them (default: false)"),
		),
	)
}

func blockInterruptTool() mcp.Tool {
	return mcp.NewTool("block_interrupt",
		mcp.WithDescription("Send SIGINT (Ctrl+C) to the running block"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
	)
}

func promptRespondTool() mcp.Tool {
	return mcp.NewTool("prompt_respond",
		mcp.WithDescription("Answer a credential prompt that had no stored secret. The secret is never logged or recorded."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("secret",
			mcp.Required(),
			mcp.Description("The password or passphrase to type"),
		),
		mcp.WithString("transfer_id",
			mcp.Description("Answer this transfer's prompt instead of the session's"),
		),
	)
}

func predictTool() mcp.Tool {
	return mcp.NewTool("predict",
		mcp.WithDescription("Rank command completions for partially typed text from history and directory context"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("text",
			mcp.Description("The text typed so far"),
		),
	)
}

func transferStartTool() mcp.Tool {
	return mcp.NewTool("transfer_start",
		mcp.WithDescription("Copy files to or from a remote host in the background. Remote paths are written [user@]host:path."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("direction",
			mcp.Required(),
			mcp.Enum(string(transfer.Upload), string(transfer.Download)),
			mcp.Description("upload or download"),
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Source path; uploads accept ** globs"),
		),
		mcp.WithString("dest",
			mcp.Required(),
			mcp.Description("Destination path"),
		),
	)
}

func transferStatusTool() mcp.Tool {
	return mcp.NewTool("transfer_status",
		mcp.WithDescription("Report progress of one transfer, or of every transfer in the session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("transfer_id",
			mcp.Description(descTransferID),
		),
	)
}

func transferCancelTool() mcp.Tool {
	return mcp.NewTool("transfer_cancel",
		mcp.WithDescription("Stop a running transfer and remove its partial download"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
		mcp.WithString("transfer_id",
			mcp.Required(),
			mcp.Description(descTransferID),
		),
	)
}

func sessionCloseTool() mcp.Tool {
	return mcp.NewTool("session_close",
		mcp.WithDescription("Close a session, terminating its running block and transfers"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description(descSessionID),
		),
	)
}

// Tool handlers

func (s *Server) handleSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := mcp.ParseString(req, "dir", "")

	sess, err := s.sessions.Create(session.CreateOptions{Dir: dir})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("session created over mcp", slog.String("session_id", sess.ID()))
	return jsonResult(sess.Status())
}

func (s *Server) handleBlockRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	command := mcp.ParseString(req, "command", "")
	waitMs := mcp.ParseInt(req, "wait_ms", defaultWaitMs)
	tailLines := mcp.ParseInt(req, "tail_lines", defaultTailLines)

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	if strings.TrimSpace(command) == "" {
		return mcp.NewToolResultError(errCommandRequired), nil
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, cancel := sess.Subscribe(0)
	defer cancel()

	b, err := sess.Dispatch(command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if b.Status == block.StatusRunning && waitMs > 0 {
		b = awaitBlock(ctx, sess, events, b.ID, waitDuration(waitMs))
	}

	return jsonResult(newBlockResult(sess, b, tailLines))
}

func waitDuration(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d > maxWait {
		return maxWait
	}
	return d
}

// awaitBlock waits until the block finishes, asks for input, or d passes,
// and returns its latest copy.
func awaitBlock(ctx context.Context, sess *session.Session, events <-chan session.Event, id string, d time.Duration) block.Block {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	if _, ok := sess.Pending(); !ok {
	loop:
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					break loop
				}
				if ev.BlockID != id {
					continue
				}
				if ev.Type == session.EventBlockFinished || ev.Type == session.EventPromptDetected {
					break loop
				}
			case <-ctx.Done():
				break loop
			}
		}
	}

	b, err := sess.Block(id)
	if err != nil {
		return block.Block{ID: id}
	}
	return b
}

func (s *Server) handleBlockList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	blockID := mcp.ParseString(req, "block_id", "")
	clearDone := mcp.ParseBoolean(req, "clear", false)

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if blockID != "" {
		b, err := sess.Block(blockID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(newBlockResult(sess, b, 0))
	}

	blocks := sess.Blocks()
	summaries := make([]blockSummary, 0, len(blocks))
	for _, b := range blocks {
		summaries = append(summaries, newBlockSummary(b))
	}
	result := map[string]any{
		"session": sess.Status(),
		"blocks":  summaries,
	}
	if clearDone {
		result["cleared"] = sess.ClearBlocks()
	}
	return jsonResult(result)
}

func (s *Server) handleBlockInterrupt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("interrupting block", slog.String("session_id", sessionID))
	if err := sess.Interrupt(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Interrupt signal sent"), nil
}

func (s *Server) handlePromptRespond(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	secret := []byte(mcp.ParseString(req, "secret", ""))
	transferID := mcp.ParseString(req, "transfer_id", "")

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if transferID != "" {
		err = sess.RespondTransfer(transferID, secret)
	} else {
		err = sess.RespondToPrompt(secret)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Input sent"), nil
}

func (s *Server) handlePredict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	text := mcp.ParseString(req, "text", "")

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sess.Predict(ctx, text))
}

func (s *Server) handleTransferStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	direction := transfer.Direction(mcp.ParseString(req, "direction", ""))
	source := mcp.ParseString(req, "source", "")
	dest := mcp.ParseString(req, "dest", "")

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	if direction != transfer.Upload && direction != transfer.Download {
		return mcp.NewToolResultError("direction must be upload or download"), nil
	}
	if source == "" || dest == "" {
		return mcp.NewToolResultError("source and dest are required"), nil
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := sess.StartTransfer(direction, source, dest)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (s *Server) handleTransferStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	transferID := mcp.ParseString(req, "transfer_id", "")

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if transferID == "" {
		return jsonResult(map[string]any{"transfers": sess.Transfers()})
	}
	t, err := sess.Transfer(transferID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (s *Server) handleTransferCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	transferID := mcp.ParseString(req, "transfer_id", "")

	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}
	if transferID == "" {
		return mcp.NewToolResultError(errTransferIDRequired), nil
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := sess.CancelTransfer(transferID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Transfer canceled"), nil
}

func (s *Server) handleSessionClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(req, "session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError(errSessionIDRequired), nil
	}

	slog.Info("closing session", slog.String("session_id", sessionID))
	if err := s.sessions.Close(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Session closed"), nil
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
