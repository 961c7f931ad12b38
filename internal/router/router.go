// --- File: internal/router/router.go ---
// Package router maps recipient identities to logical channels and fans
// published envelopes out to every member connection, locally and across
// instances via the broadcast bus.
package router

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// channelPrefix makes channel names a deterministic function of the
// recipient identity, so any instance can compute them without a directory
// lookup.
const channelPrefix = "notify:"

// ChannelFor returns the channel name for a recipient identity.
func ChannelFor(identity string) string {
	return channelPrefix + identity
}

// Sink receives envelopes for one member connection. Sinks may block on I/O;
// the router calls them outside its membership lock.
type Sink interface {
	Deliver(envelope notify.Envelope)
}

// Router tracks local channel membership and forwards every publish to the
// broadcast bus. Membership is purely local; delivery to other instances
// works by broadcast, so the router never needs global knowledge of where a
// recipient is connected.
type Router struct {
	instanceID string
	bus        notify.Bus
	logger     zerolog.Logger

	mu       sync.RWMutex
	channels map[string]map[string]Sink
}

// New creates a router bound to a broadcast bus and subscribes it to bus
// traffic. Envelopes originating from this instance are skipped on receipt,
// since they were already delivered locally at publish time.
func New(instanceID string, bus notify.Bus, logger zerolog.Logger) *Router {
	r := &Router{
		instanceID: instanceID,
		bus:        bus,
		logger:     logger.With().Str("component", "Router").Str("instance", instanceID).Logger(),
		channels:   make(map[string]map[string]Sink),
	}
	bus.Subscribe(r.handleBusEnvelope)
	return r
}

// Join adds a connection to a channel. Many connections may share a channel
// when one identity has several devices attached.
func (r *Router) Join(connID, channel string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Sink)
		r.channels[channel] = members
	}
	members[connID] = sink

	r.logger.Debug().Str("conn", connID).Str("channel", channel).Msg("Connection joined channel")
}

// Leave removes a connection from a channel. Empty channels are dropped.
func (r *Router) Leave(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.channels, channel)
	}

	r.logger.Debug().Str("conn", connID).Str("channel", channel).Msg("Connection left channel")
}

// Publish delivers the envelope to every local member of the channel and
// forwards it to the broadcast bus so peer instances deliver to their own
// members. Both happen unconditionally on every publish; a bus failure is
// logged and does not undo or fail the local delivery.
func (r *Router) Publish(ctx context.Context, channel string, envelope notify.Envelope) error {
	envelope.Channel = channel
	envelope.Origin = r.instanceID

	r.deliverLocal(envelope)

	if err := r.bus.Publish(ctx, envelope); err != nil {
		r.logger.Error().Err(err).Str("channel", channel).
			Msg("Broadcast bus publish failed; peer instances will miss this envelope")
	}
	return nil
}

// MemberCount reports the number of local members of a channel.
func (r *Router) MemberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

func (r *Router) handleBusEnvelope(envelope notify.Envelope) {
	if envelope.Origin == r.instanceID {
		// Already delivered locally when it was published.
		return
	}
	r.deliverLocal(envelope)
}

func (r *Router) deliverLocal(envelope notify.Envelope) {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.channels[envelope.Channel]))
	for _, sink := range r.channels[envelope.Channel] {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		sink.Deliver(envelope)
	}
}
