// --- File: internal/ledger/models.go ---
package ledger

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

type notificationRecord struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID          int64      `bun:"id,pk,autoincrement"`
	SenderID    string     `bun:"sender_id,notnull"`
	RecipientID string     `bun:"recipient_id,notnull"`
	Message     string     `bun:"message,notnull"`
	SocketID    *string    `bun:"socket_id"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	DeliveredAt *time.Time `bun:"delivered_at"`
}

type connectionLogRecord struct {
	bun.BaseModel `bun:"table:connection_logs,alias:cl"`

	SocketID       string     `bun:"socket_id,pk"`
	UserID         string     `bun:"user_id,notnull"`
	ConnectedAt    time.Time  `bun:"connected_at,notnull"`
	DisconnectedAt *time.Time `bun:"disconnected_at"`
}

func (r *notificationRecord) toDomain() notify.Notification {
	return notify.Notification{
		ID:          r.ID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Message:     r.Message,
		SocketID:    r.SocketID,
		CreatedAt:   r.CreatedAt,
		DeliveredAt: r.DeliveredAt,
	}
}
