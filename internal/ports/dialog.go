package ports

import "context"

// SecretPrompter asks the user for a secret without echoing it.
// Implementations may use TUI forms or test fakes.
type SecretPrompter interface {
	// PromptSecret shows title and description and returns what the user typed.
	PromptSecret(ctx context.Context, title, description string) (string, error)
}
