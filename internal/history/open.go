package history

import (
	"fmt"

	"github.com/acolita/blockterm/internal/ports"
)

// Backends accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the store named by backend. The returned close function is
// never nil.
func Open(backend, path string, limit int) (ports.HistoryManager, func() error, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(limit), func() error { return nil }, nil
	case BackendSQLite:
		s, err := OpenSQLite(path, limit)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
