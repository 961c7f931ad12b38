// --- File: pkg/notify/interfaces.go ---
package notify

import (
	"context"
	"time"
)

// Ledger is the durable store of notifications and connection lifecycle
// events. It owns the definition of "delivered".
type Ledger interface {
	// Record persists a new notification with no delivery timestamp and
	// returns its ID. Storage failures are reported, never swallowed.
	Record(ctx context.Context, senderID, recipientID, message string, socketID *string) (int64, error)

	// FetchUndelivered returns all notifications for the recipient whose
	// delivery timestamp is absent, in creation order. Read-only.
	FetchUndelivered(ctx context.Context, recipientID string) ([]Notification, error)

	// MarkDelivered sets the delivery timestamp for a notification. It is
	// idempotent: a row that is already delivered is left untouched.
	MarkDelivered(ctx context.Context, notificationID int64, deliveredAt time.Time) error

	// OpenConnection and CloseConnection maintain the connection log.
	OpenConnection(ctx context.Context, socketID, userID string, connectedAt time.Time) error
	CloseConnection(ctx context.Context, socketID string, disconnectedAt time.Time) error
}

// Bus is the shared broadcast transport connecting server instances. Every
// instance publishes every envelope; every instance receives every envelope
// (including its own, which it filters by Origin).
type Bus interface {
	Publish(ctx context.Context, envelope Envelope) error
	Subscribe(handler func(Envelope))
	Close() error
}

// Publisher fans an envelope out to all members of a channel across all
// instances. Implemented by the channel router.
type Publisher interface {
	Publish(ctx context.Context, channel string, envelope Envelope) error
}

// Verifier validates a bearer credential and produces a verified identity.
// Verification never has side effects; any failure is an
// *AuthenticationError.
type Verifier interface {
	Verify(credential string) (Identity, error)
}
