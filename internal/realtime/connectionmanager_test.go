// --- File: internal/realtime/connectionmanager_test.go ---
package realtime

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/tinywideclouds/go-notification-service/internal/auth"
	"github.com/tinywideclouds/go-notification-service/internal/bus"
	"github.com/tinywideclouds/go-notification-service/internal/ledger"
	"github.com/tinywideclouds/go-notification-service/internal/ratelimit"
	"github.com/tinywideclouds/go-notification-service/internal/router"
)

// managerFixture wires a connection manager against a real SQLite ledger, a
// real verifier, and an in-memory bus, then serves it over httptest.
type managerFixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	ledger   *ledger.Store
	limiter  *ratelimit.Limiter
	bus      *bus.InMemoryBus
}

func setupManager(t *testing.T, limiterCfg ratelimit.Config) *managerFixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	// A unique name keeps each test's shared-cache memory database private.
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	sqlDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := ledger.NewStore(bun.NewDB(sqlDB, sqlitedialect.New()), zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateSchema(ctx))

	verifier, err := auth.NewVerifier("test-secret", time.Hour, nil)
	require.NoError(t, err)

	limiter, err := ratelimit.New(limiterCfg, nil)
	require.NoError(t, err)

	sharedBus := bus.NewInMemoryBus()
	rtr := router.New("instance-test", sharedBus, zerolog.Nop())

	cm, err := NewConnectionManager("0", verifier, limiter, store, rtr, nil, zerolog.Nop())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(cm.connectHandler))
	t.Cleanup(server.Close)

	return &managerFixture{
		server:   server,
		verifier: verifier,
		ledger:   store,
		limiter:  limiter,
		bus:      sharedBus,
	}
}

func (f *managerFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.verifier.Issue(userID)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *managerFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(out))
}

func TestConnectRejectsMissingToken(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token=forged", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRateLimitsRepeatedAdmissions(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 1})

	conn := f.dial(t, "user-1")
	defer func() { _ = conn.Close() }()

	token, err := f.verifier.Issue("user-1")
	require.NoError(t, err)
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token="+token, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestSendToOfflineRecipientThenReplayOnConnect(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})
	ctx := context.Background()

	// user-1 sends while user-2 is offline.
	sender := f.dial(t, "user-1")
	require.NoError(t, sender.WriteJSON(ClientEvent{
		Type: EventSendNotification, RecipientID: "user-2", Message: "hi",
	}))

	var ack AckEvent
	readEvent(t, sender, &ack)
	require.True(t, ack.Success, "send should be acked: %s", ack.Error)

	// The ledger holds one undelivered row for user-2.
	pending, err := f.ledger.FetchUndelivered(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user-1", pending[0].SenderID)
	assert.Nil(t, pending[0].DeliveredAt)

	// user-2 connects and receives the backlog.
	recipient := f.dial(t, "user-2")
	var push PushEvent
	readEvent(t, recipient, &push)
	assert.Equal(t, EventNewNotification, push.Type)
	assert.Equal(t, "hi", push.Message)
	assert.Equal(t, "user-1", push.SenderID)

	// The row became delivered.
	require.Eventually(t, func() bool {
		pending, err := f.ledger.FetchUndelivered(ctx, "user-2")
		return err == nil && len(pending) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReplayDoesNotRepeatOnReconnect(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})
	ctx := context.Background()

	sender := f.dial(t, "user-1")
	require.NoError(t, sender.WriteJSON(ClientEvent{
		Type: EventSendNotification, RecipientID: "user-2", Message: "hi",
	}))
	var ack AckEvent
	readEvent(t, sender, &ack)
	require.True(t, ack.Success)

	// First connection replays the notification.
	first := f.dial(t, "user-2")
	var push PushEvent
	readEvent(t, first, &push)
	require.Equal(t, "hi", push.Message)

	require.Eventually(t, func() bool {
		pending, err := f.ledger.FetchUndelivered(ctx, "user-2")
		return err == nil && len(pending) == 0
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, first.Close())

	// A reconnect replays nothing: the read should time out with no push.
	second := f.dial(t, "user-2")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var stray PushEvent
	err := second.ReadJSON(&stray)
	assert.Error(t, err, "no duplicate replay expected, got %+v", stray)
}

func TestLiveDeliveryBetweenConnectedUsers(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})
	ctx := context.Background()

	recipient := f.dial(t, "user-2")
	sender := f.dial(t, "user-1")

	require.NoError(t, sender.WriteJSON(ClientEvent{
		Type: EventSendNotification, RecipientID: "user-2", Message: "live hello",
	}))
	var ack AckEvent
	readEvent(t, sender, &ack)
	require.True(t, ack.Success)

	var push PushEvent
	readEvent(t, recipient, &push)
	assert.Equal(t, "live hello", push.Message)
	assert.Equal(t, "user-1", push.SenderID)

	// Live delivery counts as delivered: nothing left to replay.
	require.Eventually(t, func() bool {
		pending, err := f.ledger.FetchUndelivered(ctx, "user-2")
		return err == nil && len(pending) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSendValidationErrorHasNoSideEffects(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})

	sender := f.dial(t, "user-1")
	require.NoError(t, sender.WriteJSON(ClientEvent{Type: EventSendNotification, Message: "no recipient"}))

	var ack AckEvent
	readEvent(t, sender, &ack)
	assert.False(t, ack.Success)
	assert.NotEmpty(t, ack.Error)

	pending, err := f.ledger.FetchUndelivered(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUnknownEventTypeGetsErrorAck(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})

	conn := f.dial(t, "user-1")
	require.NoError(t, conn.WriteJSON(ClientEvent{Type: "bogus"}))

	var ack AckEvent
	readEvent(t, conn, &ack)
	assert.False(t, ack.Success)
	assert.Contains(t, ack.Error, "unknown event type")
}

func TestDisconnectClosesConnectionRecord(t *testing.T) {
	f := setupManager(t, ratelimit.Config{Window: time.Minute, Ceiling: 10})
	ctx := context.Background()

	conn := f.dial(t, "user-1")

	// Find the open connection record: send once so the socket ID lands in
	// the notification row.
	require.NoError(t, conn.WriteJSON(ClientEvent{
		Type: EventSendNotification, RecipientID: "user-2222", Message: "marker",
	}))
	var ack AckEvent
	readEvent(t, conn, &ack)
	require.True(t, ack.Success)

	pending, err := f.ledger.FetchUndelivered(ctx, "user-2222")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].SocketID)
	socketID := *pending[0].SocketID

	record, err := f.ledger.Connection(ctx, socketID)
	require.NoError(t, err)
	assert.Nil(t, record.DisconnectedAt)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		record, err := f.ledger.Connection(ctx, socketID)
		return err == nil && record.DisconnectedAt != nil
	}, 5*time.Second, 20*time.Millisecond)

	// The identity's rate-limit window was evicted with the connection.
	require.Eventually(t, func() bool {
		return f.limiter.Len() == 0
	}, 5*time.Second, 20*time.Millisecond)
}
