package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/acolita/blockterm/internal/security"
)

// credentialStore is the writable side of the keyring.
type credentialStore interface {
	StoreServerPassword(host, user string, password []byte) error
	DeleteServerPassword(host, user string) error
}

var errCredentialUsage = errors.New("usage: blockterm credential set|delete user@host")

// runCredential stores or deletes the password injected for user@host.
func runCredential(ctx context.Context, args []string, store credentialStore, prompter ports.SecretPrompter) error {
	if len(args) != 2 {
		return errCredentialUsage
	}
	user, host, ok := strings.Cut(args[1], "@")
	if !ok || user == "" || host == "" || strings.ContainsAny(host, "@ ") {
		return fmt.Errorf("invalid target %q: %w", args[1], errCredentialUsage)
	}

	switch args[0] {
	case "set":
		secret, err := prompter.PromptSecret(ctx,
			"Password for "+user+"@"+host,
			"Injected when a command for this account asks for a password.",
		)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if secret == "" {
			return errors.New("empty password, nothing stored")
		}
		b := []byte(secret)
		defer security.WipeBytes(b)
		if err := store.StoreServerPassword(host, user, b); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
		fmt.Printf("Stored credential for %s@%s\n", user, host)
	case "delete":
		if err := store.DeleteServerPassword(host, user); err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		fmt.Printf("Deleted credential for %s@%s\n", user, host)
	default:
		return errCredentialUsage
	}
	return nil
}
