// --- File: internal/bus/redis.go ---
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// broadcastChannel is the single Redis Pub/Sub channel every instance
// publishes to and subscribes on. Fan-out by broadcast means no instance
// needs to know where a recipient is connected.
const broadcastChannel = "notify.broadcast"

// RedisBus implements notify.Bus over Redis Pub/Sub. Envelopes are JSON on
// one shared channel; each instance receives everything, including its own
// publishes, and filters by origin downstream.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers []func(notify.Envelope)

	done chan struct{}
}

// NewRedisBus connects the bus to Redis and starts the receive loop. The
// connection is verified with a ping so a bad address fails at startup, not
// on the first publish.
func NewRedisBus(ctx context.Context, client *redis.Client, logger zerolog.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis bus: %w", err)
	}

	b := &RedisBus{
		client: client,
		pubsub: client.Subscribe(ctx, broadcastChannel),
		logger: logger.With().Str("component", "RedisBus").Logger(),
		done:   make(chan struct{}),
	}

	go b.receiveLoop()

	return b, nil
}

// Publish sends the envelope to every instance subscribed to the broadcast
// channel. Failures surface as *notify.BusError so callers can treat them as
// best-effort.
func (b *RedisBus) Publish(ctx context.Context, envelope notify.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return &notify.BusError{Err: fmt.Errorf("failed to marshal envelope: %w", err)}
	}
	if err := b.client.Publish(ctx, broadcastChannel, payload).Err(); err != nil {
		return &notify.BusError{Err: err}
	}
	return nil
}

// Subscribe registers a handler for every envelope received from the bus.
func (b *RedisBus) Subscribe(handler func(notify.Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Close tears down the subscription and stops the receive loop.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}

func (b *RedisBus) receiveLoop() {
	defer close(b.done)

	for msg := range b.pubsub.Channel() {
		var envelope notify.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			b.logger.Error().Err(err).Msg("Dropping malformed envelope from broadcast bus")
			continue
		}

		b.mu.RLock()
		handlers := b.handlers
		b.mu.RUnlock()

		for _, handler := range handlers {
			handler(envelope)
		}
	}
}
