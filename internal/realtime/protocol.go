// --- File: internal/realtime/protocol.go ---
package realtime

import "time"

// Event type tags on the websocket wire.
const (
	EventSendNotification = "send_notification"
	EventNewNotification  = "new_notification"
	EventAck              = "ack"
)

// ClientEvent is a request received from a connected client.
type ClientEvent struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId,omitempty"`
	Message     string `json:"message,omitempty"`
}

// PushEvent is a notification delivered to a client.
type PushEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// AckEvent answers a client request. Either Success is true or Error carries
// a human-readable reason; the transport layer never sees a failure.
type AckEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newPush(message, senderID string, at time.Time) PushEvent {
	return PushEvent{
		Type:      EventNewNotification,
		Message:   message,
		SenderID:  senderID,
		Timestamp: at,
	}
}

func ackOK() AckEvent {
	return AckEvent{Type: EventAck, Success: true}
}

func ackError(reason string) AckEvent {
	return AckEvent{Type: EventAck, Error: reason}
}
