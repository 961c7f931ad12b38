// --- File: internal/realtime/session.go ---
// Package realtime manages websocket connections and their sessions. Each
// connection is driven by an explicit state machine: Connecting, Admitted,
// Active, Closed, with Rejected terminal from the admission states.
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/internal/ratelimit"
	"github.com/tinywideclouds/go-notification-service/internal/router"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAdmitted
	StateActive
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Emitter writes server events to one connection. Implementations must be
// safe for concurrent use: live publishes and the session's own read loop
// both emit.
type Emitter interface {
	Emit(event any) error
}

// Session orchestrates one connection: authenticate, rate-limit admission,
// channel join, backlog replay, live traffic, and disconnect cleanup. All
// methods are called from the connection's read loop except Deliver, which
// the router calls from publishing goroutines.
type Session struct {
	id       string
	identity notify.Identity
	state    State

	verifier notify.Verifier
	limiter  *ratelimit.Limiter
	ledger   notify.Ledger
	router   *router.Router
	emitter  Emitter
	logger   zerolog.Logger
	clock    func() time.Time

	channel string
}

// NewSession creates a session in the Connecting state. A nil clock defaults
// to time.Now.
func NewSession(
	id string,
	verifier notify.Verifier,
	limiter *ratelimit.Limiter,
	ledger notify.Ledger,
	rtr *router.Router,
	emitter Emitter,
	logger zerolog.Logger,
	clock func() time.Time,
) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		id:       id,
		state:    StateConnecting,
		verifier: verifier,
		limiter:  limiter,
		ledger:   ledger,
		router:   rtr,
		emitter:  emitter,
		logger:   logger.With().Str("component", "Session").Str("conn", id).Logger(),
		clock:    clock,
	}
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// Identity returns the verified identity, empty before admission.
func (s *Session) Identity() notify.Identity { return s.identity }

// limiterKey is the socket-scope rate-limit key. An unauthenticated session
// falls back to its own connection ID so an unauthenticated flood cannot
// share a single counter.
func (s *Session) limiterKey() string {
	if s.identity.UserID == "" {
		return "conn:" + s.id
	}
	return s.identity.UserID
}

// Admit runs the Connecting and Admitted gates: credential verification,
// then socket-scope rate limiting keyed by the verified identity. On any
// failure the session lands in Rejected and the returned error carries the
// refusal reason.
func (s *Session) Admit(credential string) error {
	if s.state != StateConnecting {
		return errors.New("admit called on a session past admission")
	}

	identity, err := s.verifier.Verify(credential)
	if err != nil {
		s.state = StateRejected
		s.logger.Info().Err(err).Msg("Connection refused: authentication failed")
		return err
	}
	s.identity = identity
	s.logger = s.logger.With().Str("user", identity.UserID).Logger()

	decision := s.limiter.Admit(s.limiterKey())
	if !decision.Allowed {
		s.state = StateRejected
		s.logger.Info().Dur("retry_after", decision.RetryAfter).Msg("Connection refused: rate limited")
		return &notify.RateLimitError{RetryAfter: decision.RetryAfter}
	}

	s.state = StateAdmitted
	return nil
}

// Activate opens the connection record, replays the identity's undelivered
// backlog, and only then joins the channel for live publishes. Replay runs
// synchronously to completion first, so a backlog item can never be re-sent
// after a fresh one on this connection.
func (s *Session) Activate(ctx context.Context) error {
	if s.state != StateAdmitted {
		return errors.New("activate called on a session that was not admitted")
	}

	if err := s.ledger.OpenConnection(ctx, s.id, s.identity.UserID, s.clock()); err != nil {
		// Storage failures never take the session down.
		s.logger.Error().Err(err).Msg("Failed to write connection record")
	}

	if err := s.replay(ctx); err != nil {
		return err
	}

	s.channel = router.ChannelFor(s.identity.UserID)
	s.router.Join(s.id, s.channel, s)
	s.state = StateActive

	s.logger.Info().Str("channel", s.channel).Msg("Session active")
	return nil
}

// replay emits every undelivered notification for this identity in creation
// order, marking each delivered. A fetch failure is logged and skipped: the
// backlog stays in the ledger for the next connection.
func (s *Session) replay(ctx context.Context) error {
	pending, err := s.ledger.FetchUndelivered(ctx, s.identity.UserID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch undelivered backlog; skipping replay")
		return nil
	}
	if len(pending) == 0 {
		return nil
	}

	s.logger.Info().Int("count", len(pending)).Msg("Replaying undelivered notifications")

	for i := range pending {
		n := &pending[i]
		if err := s.emitter.Emit(newPush(n.Message, n.SenderID, n.CreatedAt)); err != nil {
			// The connection is gone; the rest of the backlog stays
			// undelivered for the next connection.
			return err
		}
		if err := s.ledger.MarkDelivered(ctx, n.ID, s.clock()); err != nil {
			s.logger.Error().Err(err).Int64("notification", n.ID).Msg("Failed to mark replayed notification delivered")
		}
	}
	return nil
}

// HandleSend processes a send_notification request in the Active state. The
// returned ack is always well-formed; errors are carried inside it, never
// raised to the transport layer.
func (s *Session) HandleSend(ctx context.Context, event ClientEvent) AckEvent {
	if s.state != StateActive {
		return ackError("session is not active")
	}

	decision := s.limiter.Admit(s.limiterKey())
	if !decision.Allowed {
		return ackError((&notify.RateLimitError{RetryAfter: decision.RetryAfter}).Error())
	}

	if event.RecipientID == "" || event.Message == "" {
		return ackError("recipientId and message are required")
	}

	socketID := s.id
	notificationID, err := s.ledger.Record(ctx, s.identity.UserID, event.RecipientID, event.Message, &socketID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to record notification")
		return ackError("failed to send notification")
	}

	envelope := notify.Envelope{
		NotificationID: notificationID,
		SenderID:       s.identity.UserID,
		Message:        event.Message,
		SentAt:         s.clock(),
	}
	if err := s.router.Publish(ctx, router.ChannelFor(event.RecipientID), envelope); err != nil {
		s.logger.Error().Err(err).Msg("Failed to publish notification")
		return ackError("failed to send notification")
	}

	return ackOK()
}

// Deliver implements router.Sink. A live envelope is emitted to this
// connection and marked delivered, which is what keeps fan-out and ledger in
// agreement about delivery.
func (s *Session) Deliver(envelope notify.Envelope) {
	if err := s.emitter.Emit(newPush(envelope.Message, envelope.SenderID, envelope.SentAt)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to emit live notification; it stays undelivered")
		return
	}
	if envelope.NotificationID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.MarkDelivered(ctx, envelope.NotificationID, s.clock()); err != nil {
		s.logger.Error().Err(err).Int64("notification", envelope.NotificationID).Msg("Failed to mark live notification delivered")
	}
}

// Close runs the mandatory disconnect cleanup: connection-log close, channel
// leave, and rate-limit eviction. It is safe to call from any state and runs
// every step even if an earlier one fails; skipping them would leak limiter
// entries and leave the ledger claiming the socket is still connected.
func (s *Session) Close(ctx context.Context) {
	if s.state == StateClosed || s.state == StateRejected || s.state == StateConnecting {
		if s.state == StateConnecting {
			s.state = StateClosed
		}
		return
	}

	if s.channel != "" {
		s.router.Leave(s.id, s.channel)
	}

	if err := s.ledger.CloseConnection(ctx, s.id, s.clock()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close connection record")
	}

	s.limiter.Evict(s.limiterKey())

	s.state = StateClosed
	s.logger.Info().Msg("Session closed")
}
