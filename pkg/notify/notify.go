// --- File: pkg/notify/notify.go ---
// Package notify contains the public domain models, service contracts, and
// error taxonomy for the notification service. It defines the contract for
// interacting with the service.
package notify

import (
	"time"
)

// SenderSystem is the sentinel sender identity used for notifications that
// originate from the webhook ingestion path rather than a connected user.
const SenderSystem = "system"

// Notification is a single delivery-ledger row. DeliveredAt is nil until the
// notification has been emitted to one of the recipient's connections; it is
// set exactly once and never reset.
type Notification struct {
	ID          int64      `json:"id"`
	SenderID    string     `json:"senderId"`
	RecipientID string     `json:"recipientId"`
	Message     string     `json:"message"`
	SocketID    *string    `json:"socketId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// ConnectionRecord tracks the lifecycle of a single realtime connection.
// Exactly one open record (DisconnectedAt nil) exists per live socket ID.
type ConnectionRecord struct {
	SocketID       string     `json:"socketId"`
	UserID         string     `json:"userId"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Identity is the result of verifying a bearer credential.
type Identity struct {
	UserID string `json:"userId"`
}

// Envelope is the payload fanned out to every member of a channel, locally
// and across instances via the broadcast bus. Origin carries the publishing
// instance ID so an instance can skip bus messages it already delivered
// locally.
type Envelope struct {
	Channel        string    `json:"channel"`
	NotificationID int64     `json:"notificationId"`
	SenderID       string    `json:"senderId"`
	Message        string    `json:"message"`
	SentAt         time.Time `json:"sentAt"`
	Origin         string    `json:"origin"`
}
