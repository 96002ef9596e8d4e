package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/blockterm/internal/block"
	"github.com/acolita/blockterm/internal/transfer"
)

// EventType names a session notification.
type EventType string

const (
	EventBlockStarted       EventType = "block_started"
	EventBlockOutput        EventType = "block_output"
	EventBlockFinished      EventType = "block_finished"
	EventPromptDetected     EventType = "prompt_detected"
	EventCredentialInjected EventType = "credential_injected"
	EventContextChanged     EventType = "context_changed"
	EventTransferUpdated    EventType = "transfer_updated"
	EventStatus             EventType = "status"
)

// Context is the working-directory view prediction runs against.
type Context struct {
	Dir       string   `json:"dir"`
	Remote    bool     `json:"remote"`
	RemoteDir string   `json:"remote_dir,omitempty"`
	Target    string   `json:"target,omitempty"`
	Items     []string `json:"items,omitempty"`
}

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType          `json:"type"`
	SessionID string             `json:"session_id"`
	Time      time.Time          `json:"time"`
	BlockID   string             `json:"block_id,omitempty"`
	Block     *block.Block       `json:"block,omitempty"`
	Lines     []block.Line       `json:"lines,omitempty"`
	Prompt    *PromptRequest     `json:"prompt,omitempty"`
	Target    string             `json:"target,omitempty"`
	Context   *Context           `json:"context,omitempty"`
	Transfer  *transfer.Transfer `json:"transfer,omitempty"`
	Status    *Status            `json:"status,omitempty"`
}

// DefaultEventBuffer is the channel size Subscribe uses for buffer <= 0.
const DefaultEventBuffer = 256

// broker fans events out to subscribers. Sends never block: a subscriber
// that falls behind loses events.
type broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("event dropped",
				slog.String("session_id", ev.SessionID),
				slog.String("type", string(ev.Type)),
			)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
