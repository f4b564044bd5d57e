// Package events carries the observable lifecycle events of the
// orchestration core. Pipeline failures are asynchronous; this is the
// channel operator-facing surfaces subscribe to. Every job ends with a
// terminal event, nothing is dropped silently.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind. Types double as routing keys for the
// AMQP publisher.
type Type string

const (
	JobDelivered Type = "job.delivered"
	JobFailed    Type = "job.failed"
	JobAbandoned Type = "job.abandoned"
	ChatAssigned Type = "chat.assigned"
	ChatClosed   Type = "chat.closed"
)

// Event is one orchestration lifecycle event.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	AccountID  int64     `json:"account_id,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	MessageKey string    `json:"message_key,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher forwards events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Bus fans events out to in-process subscribers and attached publishers.
// Emit never blocks the caller: slow subscribers lose events, and publisher
// failures are logged, not propagated.
type Bus struct {
	mu    sync.RWMutex
	subs  []chan Event
	pubs  []Publisher
	clock func() time.Time
	log   *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{clock: time.Now, log: logger}
}

// Attach adds an external publisher.
func (b *Bus) Attach(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, p)
}

// Subscribe returns a buffered channel receiving all subsequent events.
func (b *Bus) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Emit delivers the event to all subscribers and publishers.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = b.clock()
	}

	b.mu.RLock()
	subs := b.subs
	pubs := b.pubs
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("event subscriber full, dropping event", "type", e.Type, "chat", e.ChatID)
		}
	}
	for _, p := range pubs {
		if err := p.Publish(ctx, e); err != nil {
			b.log.Error("event publish failed", "type", e.Type, "error", err)
		}
	}
}

// Close closes attached publishers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pubs {
		if err := p.Close(); err != nil {
			b.log.Error("event publisher close failed", "error", err)
		}
	}
	b.pubs = nil
}
