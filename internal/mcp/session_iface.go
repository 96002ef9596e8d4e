package mcp

import (
	"github.com/acolita/blockterm/internal/config"
	"github.com/acolita/blockterm/internal/session"
)

// sessionManager abstracts session lifecycle management for testing.
type sessionManager interface {
	Create(opts session.CreateOptions) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Close(id string) error
	List() []session.Status
	CloseAll()
	UpdateConfig(cfg *config.Config)
}

// Verify the concrete manager satisfies the interface at compile time.
var _ sessionManager = (*session.Manager)(nil)
