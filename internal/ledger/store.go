// --- File: internal/ledger/store.go ---
// Package ledger persists notifications and connection lifecycle events.
// It owns the definition of "delivered": a notification counts as delivered
// once its delivery timestamp is set, which happens at most once per row.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Store implements notify.Ledger over a bun database handle. Postgres backs
// it in production; tests use in-memory SQLite with the same queries.
type Store struct {
	db     *bun.DB
	logger zerolog.Logger
	clock  func() time.Time
}

// NewStore creates a ledger store. A nil clock defaults to time.Now.
func NewStore(db *bun.DB, logger zerolog.Logger, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: db cannot be nil")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "Ledger").Logger(),
		clock:  clock,
	}, nil
}

// CreateSchema creates the ledger tables if they do not exist. Production
// deployments run real migrations; this serves tests and local mode.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*notificationRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*connectionLogRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create connection_logs table: %w", err)
	}
	return nil
}

// Record persists a new notification with no delivery timestamp.
func (s *Store) Record(ctx context.Context, senderID, recipientID, message string, socketID *string) (int64, error) {
	record := &notificationRecord{
		SenderID:    senderID,
		RecipientID: recipientID,
		Message:     message,
		SocketID:    socketID,
		CreatedAt:   s.clock().UTC(),
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return 0, &notify.StorageError{Op: "record", Err: err}
	}

	s.logger.Debug().Int64("id", record.ID).Str("recipient", recipientID).Msg("Notification recorded")
	return record.ID, nil
}

// FetchUndelivered returns the recipient's undelivered notifications in
// creation order. It does not mutate state.
func (s *Store) FetchUndelivered(ctx context.Context, recipientID string) ([]notify.Notification, error) {
	var records []notificationRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("recipient_id = ?", recipientID).
		Where("delivered_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, &notify.StorageError{Op: "fetch_undelivered", Err: err}
	}

	notifications := make([]notify.Notification, 0, len(records))
	for i := range records {
		notifications = append(notifications, records[i].toDomain())
	}
	return notifications, nil
}

// MarkDelivered sets the delivery timestamp. The conditional update makes it
// idempotent: a row that already has a timestamp is not touched, so the
// timestamp transitions from absent to set exactly once.
func (s *Store) MarkDelivered(ctx context.Context, notificationID int64, deliveredAt time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*notificationRecord)(nil)).
		Set("delivered_at = ?", deliveredAt.UTC()).
		Where("id = ?", notificationID).
		Where("delivered_at IS NULL").
		Exec(ctx)
	if err != nil {
		return &notify.StorageError{Op: "mark_delivered", Err: err}
	}
	return nil
}

// OpenConnection writes the connection-log row for a newly admitted socket.
func (s *Store) OpenConnection(ctx context.Context, socketID, userID string, connectedAt time.Time) error {
	record := &connectionLogRecord{
		SocketID:    socketID,
		UserID:      userID,
		ConnectedAt: connectedAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return &notify.StorageError{Op: "open_connection", Err: err}
	}
	return nil
}

// CloseConnection stamps the disconnect time on the socket's open record.
func (s *Store) CloseConnection(ctx context.Context, socketID string, disconnectedAt time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*connectionLogRecord)(nil)).
		Set("disconnected_at = ?", disconnectedAt.UTC()).
		Where("socket_id = ?", socketID).
		Where("disconnected_at IS NULL").
		Exec(ctx)
	if err != nil {
		return &notify.StorageError{Op: "close_connection", Err: err}
	}
	return nil
}

// Connection returns the connection-log row for a socket.
func (s *Store) Connection(ctx context.Context, socketID string) (notify.ConnectionRecord, error) {
	var record connectionLogRecord
	err := s.db.NewSelect().
		Model(&record).
		Where("socket_id = ?", socketID).
		Scan(ctx)
	if err != nil {
		return notify.ConnectionRecord{}, &notify.StorageError{Op: "connection", Err: err}
	}
	return notify.ConnectionRecord{
		SocketID:       record.SocketID,
		UserID:         record.UserID,
		ConnectedAt:    record.ConnectedAt,
		DisconnectedAt: record.DisconnectedAt,
	}, nil
}
