// --- File: internal/bus/inmemory.go ---
// Package bus provides the shared broadcast transport that connects server
// instances. Every publish reaches every subscriber on every instance; the
// channel router filters by envelope origin and channel membership.
package bus

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// InMemoryBus is an in-process broadcast bus. It backs single-instance
// deployments, where no cross-instance forwarding exists, and multi-router
// tests, where several routers share one bus the way several instances
// would share Redis.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers []func(notify.Envelope)
	closed   bool
}

// NewInMemoryBus creates an in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish delivers the envelope to every subscriber synchronously, in
// subscription order.
func (b *InMemoryBus) Publish(_ context.Context, envelope notify.Envelope) error {
	b.mu.RLock()
	handlers := b.handlers
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}
	for _, handler := range handlers {
		handler(envelope)
	}
	return nil
}

// Subscribe registers a handler for every future publish.
func (b *InMemoryBus) Subscribe(handler func(notify.Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.handlers = append(b.handlers, handler)
}

// Close drops all subscribers. Subsequent publishes are no-ops.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
