package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acolita/blockterm/internal/security"
	"github.com/acolita/blockterm/internal/transfer"
)

// StartTransfer begins a background transfer. Relative local paths resolve
// against the session's working directory.
func (s *Session) StartTransfer(dir transfer.Direction, source, dest string) (transfer.Transfer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transfer.Transfer{}, ErrClosed
	}
	cwd := s.dir
	s.mu.Unlock()

	t, err := s.transfers.Start(transfer.Request{
		Direction: dir,
		Source:    source,
		Dest:      dest,
		Dir:       cwd,
	})
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("start %s: %w", dir, err)
	}
	return t, nil
}

// Transfers lists every transfer the session started.
func (s *Session) Transfers() []transfer.Transfer {
	return s.transfers.List()
}

// Transfer returns one transfer.
func (s *Session) Transfer(id string) (transfer.Transfer, error) {
	return s.transfers.Get(id)
}

// CancelTransfer stops a running transfer.
func (s *Session) CancelTransfer(id string) error {
	return s.transfers.Cancel(id)
}

// RespondTransfer answers a transfer's credential prompt. secret is wiped.
func (s *Session) RespondTransfer(id string, secret []byte) error {
	defer security.WipeBytes(secret)
	return s.transfers.Respond(id, secret)
}

// WaitTransfer blocks until the transfer ends or ctx is done.
func (s *Session) WaitTransfer(ctx context.Context, id string) (transfer.Transfer, error) {
	return s.transfers.Wait(ctx, id)
}

func (s *Session) onTransfer(t transfer.Transfer) {
	slog.Debug("transfer updated",
		slog.String("session_id", s.id),
		slog.String("transfer_id", t.ID),
		slog.String("status", string(t.Status)),
	)
	s.publish(Event{Type: EventTransferUpdated, Transfer: &t})
}
