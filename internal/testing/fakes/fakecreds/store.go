// Package fakecreds provides a map-backed CredentialStore for testing.
package fakecreds

import (
	"sync"

	"github.com/acolita/blockterm/internal/ports"
)

// Lookup records one call to Store.Lookup.
type Lookup struct {
	Host string
	User string
}

// Store is an in-memory credential store.
type Store struct {
	mu      sync.Mutex
	secrets map[string]string
	lookups []Lookup
}

// New creates an empty store.
func New() *Store {
	return &Store{secrets: make(map[string]string)}
}

// Set stores secret for user on host.
func (s *Store) Set(host, user, secret string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[user+"@"+host] = secret
	return s
}

// Lookup returns a copy of the stored secret.
func (s *Store) Lookup(host, username string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups = append(s.lookups, Lookup{Host: host, User: username})
	secret, ok := s.secrets[username+"@"+host]
	if !ok {
		return nil, false
	}
	return []byte(secret), true
}

// Lookups returns every Lookup call in order.
func (s *Store) Lookups() []Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Lookup(nil), s.lookups...)
}

var _ ports.CredentialStore = (*Store)(nil)
