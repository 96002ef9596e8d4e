// Package fakedialog provides a test fake for ports.SecretPrompter.
package fakedialog

import (
	"context"
	"sync"

	"github.com/acolita/blockterm/internal/ports"
)

// Prompt records one PromptSecret call.
type Prompt struct {
	Title       string
	Description string
}

// Prompter returns a scripted secret.
type Prompter struct {
	mu      sync.Mutex
	secret  string
	err     error
	prompts []Prompt
}

// New returns a prompter that answers every prompt with secret.
func New(secret string) *Prompter {
	return &Prompter{secret: secret}
}

// Fail makes every following prompt return err.
func (p *Prompter) Fail(err error) *Prompter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// PromptSecret implements ports.SecretPrompter.
func (p *Prompter) PromptSecret(ctx context.Context, title, description string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, Prompt{Title: title, Description: description})
	if p.err != nil {
		return "", p.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.secret, nil
}

// Prompts returns every call so far.
func (p *Prompter) Prompts() []Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Prompt(nil), p.prompts...)
}

var _ ports.SecretPrompter = (*Prompter)(nil)
