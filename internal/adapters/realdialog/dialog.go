// Package realdialog provides a TUI-based SecretPrompter using charmbracelet/huh.
package realdialog

import (
	"context"
	"errors"
	"fmt"

	"github.com/acolita/blockterm/internal/ports"
	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the user dismisses the prompt.
var ErrAborted = errors.New("prompt aborted")

// Provider implements ports.SecretPrompter with a masked huh input.
type Provider struct {
	accessible bool
}

// New returns a new TUI prompt provider. Accessible mode drops the TUI and
// reads plain lines, which is what screen readers and dumb terminals need.
func New(accessible bool) *Provider {
	return &Provider{accessible: accessible}
}

// PromptSecret asks for a secret without echoing it.
func (p *Provider) PromptSecret(ctx context.Context, title, description string) (string, error) {
	var secret string

	form := newSecretForm(title, description, &secret).WithAccessible(p.accessible)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("run secret form: %w", err)
	}

	return secret, nil
}

func newSecretForm(title, description string, value *string) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description(description).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("secret cannot be empty")
					}
					return nil
				}).
				Value(value),
		),
	)
}

var _ ports.SecretPrompter = (*Provider)(nil)
