package bus

import (
	"context"
	"sync"
)

// Publisher delivers seed events onto the shared event bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Handler consumes envelopes delivered by the in-memory bus.
type Handler func(ctx context.Context, env Envelope)

// MemoryBus is an in-process loopback bus for local development and tests:
// published envelopes are dispatched synchronously to every subscribed
// handler and retained for inspection.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
	history  []Envelope
}

var _ Publisher = (*MemoryBus)(nil)

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{history: make([]Envelope, 0, 64)}
}

// Subscribe registers a handler for every subsequently published envelope.
func (b *MemoryBus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish records the envelope and dispatches it to all handlers.
func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	b.history = append(b.history, env)
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, env)
	}
	return nil
}

// History returns all envelopes published so far.
func (b *MemoryBus) History() []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Envelope, len(b.history))
	copy(out, b.history)
	return out
}
