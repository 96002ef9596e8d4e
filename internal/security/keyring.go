// Package security holds the credential store, command filter, auth lockout
// and secret wiping used by sessions and transfers.
package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/zalando/go-keyring"
)

// KeyringStore keeps server passwords and key passphrases in the OS keyring
// (macOS Keychain, Linux Secret Service, Windows Credential Manager).
// Secrets are base64 encoded so arbitrary bytes survive the round trip.
type KeyringStore struct {
	service string
	enabled bool
	mu      sync.RWMutex
}

// NewKeyringStore creates a keyring store for service. If the system keyring
// is not available, the store is disabled and every lookup misses.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	ks := &KeyringStore{service: service, enabled: true}

	if err := keyring.Set(service, probeKey, "probe"); err != nil {
		slog.Debug("keyring not available, credential lookups disabled",
			slog.String("error", err.Error()),
		)
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(service, probeKey)

	slog.Debug("keyring storage enabled", slog.String("service", service))
	return ks
}

// IsEnabled returns true if the keyring is available and enabled.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled allows enabling/disabling keyring usage.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

// Lookup returns the server password stored for user on host.
func (ks *KeyringStore) Lookup(host, user string) ([]byte, bool) {
	secret, err := ks.get(fmt.Sprintf(keyServerFmt, user, host))
	if err != nil {
		slog.Warn("credential lookup failed",
			slog.String("host", host),
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return secret, secret != nil
}

// StoreServerPassword stores the password used to log in as user on host.
func (ks *KeyringStore) StoreServerPassword(host, user string, password []byte) error {
	if err := ks.set(fmt.Sprintf(keyServerFmt, user, host), password); err != nil {
		return fmt.Errorf("store server password: %w", err)
	}
	slog.Debug("stored server password in keyring",
		slog.String("user", user),
		slog.String("host", host),
	)
	return nil
}

// DeleteServerPassword removes the password for user on host.
func (ks *KeyringStore) DeleteServerPassword(host, user string) error {
	if err := ks.delete(fmt.Sprintf(keyServerFmt, user, host)); err != nil {
		return fmt.Errorf("delete server password: %w", err)
	}
	return nil
}

// StoreSSHPassphrase stores the passphrase of an encrypted private key.
func (ks *KeyringStore) StoreSSHPassphrase(keyPath string, passphrase []byte) error {
	if err := ks.set(fmt.Sprintf(keySSHPassphraseFmt, keyPath), passphrase); err != nil {
		return fmt.Errorf("store SSH passphrase: %w", err)
	}
	return nil
}

// GetSSHPassphrase returns the passphrase for keyPath, or nil when none is
// stored.
func (ks *KeyringStore) GetSSHPassphrase(keyPath string) ([]byte, error) {
	secret, err := ks.get(fmt.Sprintf(keySSHPassphraseFmt, keyPath))
	if err != nil {
		return nil, fmt.Errorf("get SSH passphrase: %w", err)
	}
	return secret, nil
}

func (ks *KeyringStore) set(key string, secret []byte) error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}
	return keyring.Set(ks.service, key, base64.StdEncoding.EncodeToString(secret))
}

func (ks *KeyringStore) get(key string) ([]byte, error) {
	if !ks.IsEnabled() {
		return nil, nil
	}
	encoded, err := keyring.Get(ks.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return secret, nil
}

func (ks *KeyringStore) delete(key string) error {
	if !ks.IsEnabled() {
		return errors.New(errKeyringNotAvailable)
	}
	if err := keyring.Delete(ks.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

var _ ports.CredentialStore = (*KeyringStore)(nil)
