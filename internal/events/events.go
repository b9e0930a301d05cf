// Package events fans conversation events out to WebSocket clients, chat
// gateways and Redis Streams.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type identifies an event.
type Type string

const (
	MessageCreated   Type = "message_created"
	MessageDelta     Type = "message_delta"
	MessageCompleted Type = "message_completed"
	StepResult       Type = "step_result"
	PlanUpdated      Type = "plan_updated"
	PlanCompleted    Type = "plan_completed"
	Error            Type = "error"
)

// Event is one notification about a conversation.
type Event struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversationId"`
	Payload        any       `json:"payload,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block the caller for
// long; session state changes publish while holding no locks.
type Publisher interface {
	Publish(ctx context.Context, e *Event)
}

// All subscribes to every conversation.
const All = "*"

// Hub is the in-process pub/sub keyed by conversation id.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]chan *Event
	buffer int
	logger *zap.Logger
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 100
	}
	return &Hub{
		subs:   make(map[string][]chan *Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of events for convID (or All) and a function
// that unsubscribes and closes it.
func (h *Hub) Subscribe(convID string) (<-chan *Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *Event, h.buffer)
	h.subs[convID] = append(h.subs[convID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subs[convID]
			for i, s := range subs {
				if s == ch {
					close(ch)
					h.subs[convID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subs[convID]) == 0 {
				delete(h.subs, convID)
			}
		})
	}
	return ch, unsub
}

// Publish delivers e to the conversation's subscribers and to All. A full
// subscriber drops the event.
func (h *Hub) Publish(_ context.Context, e *Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, key := range []string{e.ConversationID, All} {
		for _, ch := range h.subs[key] {
			select {
			case ch <- e:
			default:
				h.logger.Warn("event subscriber full, dropping event",
					zap.String("conversation", e.ConversationID),
					zap.String("type", string(e.Type)))
			}
		}
	}
}

// Fanout publishes to several publishers in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, e *Event) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}
