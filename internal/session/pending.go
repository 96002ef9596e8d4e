package session

import (
	"sync"
	"time"
)

// PromptRequest is a prompt waiting for the user: a credential prompt with
// no stored secret, or one that reappeared after injection.
type PromptRequest struct {
	BlockID string    `json:"block_id"`
	Prompt  string    `json:"prompt"`
	Reason  string    `json:"reason,omitempty"`
	Target  string    `json:"target,omitempty"`
	Since   time.Time `json:"since"`
}

// pendingSlot holds at most one outstanding request and its responder.
type pendingSlot struct {
	mu      sync.Mutex
	req     *PromptRequest
	respond func([]byte) error
}

func (p *pendingSlot) set(req PromptRequest, respond func([]byte) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req != nil {
		return ErrRequestPending
	}
	p.req = &req
	p.respond = respond
	return nil
}

// take empties the slot and returns what was in it.
func (p *pendingSlot) take() (PromptRequest, func([]byte) error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req == nil {
		return PromptRequest{}, nil, false
	}
	req, fn := *p.req, p.respond
	p.req, p.respond = nil, nil
	return req, fn, true
}

func (p *pendingSlot) peek() (PromptRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req == nil {
		return PromptRequest{}, false
	}
	return *p.req, true
}

// clear drops the request if it belongs to blockID, or any request when
// blockID is empty.
func (p *pendingSlot) clear(blockID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req == nil || (blockID != "" && p.req.BlockID != blockID) {
		return false
	}
	p.req, p.respond = nil, nil
	return true
}
