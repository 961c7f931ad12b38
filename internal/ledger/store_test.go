// --- File: internal/ledger/store_test.go ---
package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/tinywideclouds/go-notification-service/internal/ledger"
)

// testClock hands out strictly increasing timestamps so creation order is
// unambiguous even within one millisecond.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func setupStore(t *testing.T) (context.Context, *ledger.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	// A unique name keeps each test's shared-cache memory database private.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	sqlDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db := bun.NewDB(sqlDB, sqlitedialect.New())

	clock := &testClock{now: time.Unix(1700000000, 0).UTC()}
	store, err := ledger.NewStore(db, zerolog.Nop(), clock.Now)
	require.NoError(t, err)
	require.NoError(t, store.CreateSchema(ctx))

	return ctx, store
}

func TestRecordAndFetchUndelivered(t *testing.T) {
	ctx, store := setupStore(t)

	socketID := "socket-1"
	id1, err := store.Record(ctx, "user-1", "user-2", "first", &socketID)
	require.NoError(t, err)
	id2, err := store.Record(ctx, "user-1", "user-2", "second", nil)
	require.NoError(t, err)
	_, err = store.Record(ctx, "user-1", "user-3", "other recipient", nil)
	require.NoError(t, err)

	pending, err := store.FetchUndelivered(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Creation order, oldest first.
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, "first", pending[0].Message)
	require.NotNil(t, pending[0].SocketID)
	assert.Equal(t, "socket-1", *pending[0].SocketID)
	assert.Nil(t, pending[0].DeliveredAt)

	assert.Equal(t, id2, pending[1].ID)
	assert.Nil(t, pending[1].SocketID)
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	ctx, store := setupStore(t)

	id, err := store.Record(ctx, "user-1", "user-2", "hi", nil)
	require.NoError(t, err)

	firstAt := time.Unix(1700001000, 0).UTC()
	require.NoError(t, store.MarkDelivered(ctx, id, firstAt))

	pending, err := store.FetchUndelivered(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second mark with a later timestamp must not overwrite the first:
	// the delivery timestamp transitions exactly once.
	require.NoError(t, store.MarkDelivered(ctx, id, firstAt.Add(time.Hour)))

	pending, err = store.FetchUndelivered(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkDeliveredUnknownIDIsNoOp(t *testing.T) {
	ctx, store := setupStore(t)
	assert.NoError(t, store.MarkDelivered(ctx, 9999, time.Now()))
}

func TestFetchUndeliveredSkipsDeliveredRows(t *testing.T) {
	ctx, store := setupStore(t)

	id1, err := store.Record(ctx, "user-1", "user-2", "delivered", nil)
	require.NoError(t, err)
	id2, err := store.Record(ctx, "user-1", "user-2", "pending", nil)
	require.NoError(t, err)

	require.NoError(t, store.MarkDelivered(ctx, id1, time.Now()))

	pending, err := store.FetchUndelivered(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)
}

func TestConnectionLifecycle(t *testing.T) {
	ctx, store := setupStore(t)

	connectedAt := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.OpenConnection(ctx, "socket-1", "user-1", connectedAt))

	record, err := store.Connection(ctx, "socket-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.True(t, record.ConnectedAt.Equal(connectedAt))
	assert.Nil(t, record.DisconnectedAt)

	disconnectedAt := connectedAt.Add(time.Minute)
	require.NoError(t, store.CloseConnection(ctx, "socket-1", disconnectedAt))

	record, err = store.Connection(ctx, "socket-1")
	require.NoError(t, err)
	require.NotNil(t, record.DisconnectedAt)
	assert.True(t, record.DisconnectedAt.Equal(disconnectedAt))

	// Closing again must not move the disconnect timestamp.
	require.NoError(t, store.CloseConnection(ctx, "socket-1", disconnectedAt.Add(time.Hour)))
	record, err = store.Connection(ctx, "socket-1")
	require.NoError(t, err)
	assert.True(t, record.DisconnectedAt.Equal(disconnectedAt))
}
