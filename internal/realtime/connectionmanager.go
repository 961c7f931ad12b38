// --- File: internal/realtime/connectionmanager.go ---
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/internal/ratelimit"
	"github.com/tinywideclouds/go-notification-service/internal/router"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// ConnectionManager runs the websocket server and drives a Session per
// connection.
type ConnectionManager struct {
	server   *http.Server
	upgrader websocket.Upgrader

	verifier notify.Verifier
	limiter  *ratelimit.Limiter
	ledger   notify.Ledger
	router   *router.Router

	connections sync.Map // map[string]*websocket.Conn, for shutdown drain
	logger      zerolog.Logger
	clock       func() time.Time

	mu   sync.Mutex
	addr string
}

// NewConnectionManager creates and wires up a new websocket connection
// manager. The allowed-origins list gates the upgrade handshake; a single
// "*" entry disables the check.
func NewConnectionManager(
	port string,
	verifier notify.Verifier,
	limiter *ratelimit.Limiter,
	ledger notify.Ledger,
	rtr *router.Router,
	allowedOrigins []string,
	logger zerolog.Logger,
) (*ConnectionManager, error) {
	if verifier == nil || limiter == nil || ledger == nil || rtr == nil {
		return nil, fmt.Errorf("realtime: all dependencies must be non-nil")
	}

	cm := &ConnectionManager{
		verifier: verifier,
		limiter:  limiter,
		ledger:   ledger,
		router:   rtr,
		logger:   logger.With().Str("component", "ConnectionManager").Logger(),
		clock:    time.Now,
	}
	cm.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	mux := http.NewServeMux()
	mux.Handle("/connect", http.HandlerFunc(cm.connectHandler))
	cm.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	return cm, nil
}

// Start runs the HTTP server for websocket connections.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", cm.server.Addr)
	if err != nil {
		return fmt.Errorf("websocket server failed to listen on %s: %w", cm.server.Addr, err)
	}
	cm.mu.Lock()
	cm.addr = listener.Addr().String()
	cm.mu.Unlock()

	cm.logger.Info().Str("addr", cm.addr).Msg("WebSocket server starting...")
	if err := cm.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Addr reports the bound listen address. Empty until Start has opened the
// listener; with port 0 this is how tests learn the assigned port.
func (cm *ConnectionManager) Addr() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.addr
}

// Shutdown stops the HTTP server and closes every live connection so each
// session's disconnect cleanup runs.
func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.logger.Info().Msg("Shutting down WebSocket service...")

	err := cm.server.Shutdown(ctx)
	if err != nil {
		cm.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
	}

	cm.connections.Range(func(_, value any) bool {
		if conn, ok := value.(*websocket.Conn); ok {
			_ = conn.Close()
		}
		return true
	})

	cm.logger.Info().Msg("WebSocket service shut down.")
	return err
}

// connectHandler admits a new connection, upgrades it, and serves its
// session until disconnect.
func (cm *ConnectionManager) connectHandler(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	session := NewSession(connID, cm.verifier, cm.limiter, cm.ledger, cm.router, nil, cm.logger, cm.clock)

	// Admission runs before the upgrade so a refusal is a plain HTTP error
	// and no events are ever exchanged.
	if err := session.Admit(bearerToken(r)); err != nil {
		var rateErr *notify.RateLimitError
		if errors.As(err, &rateErr) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cm.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			cm.logger.Debug().Err(closeErr).Msg("error closing connection")
		}
	}()

	session.emitter = newConnEmitter(conn)
	cm.connections.Store(connID, conn)
	defer cm.connections.Delete(connID)

	// Cleanup is mandatory on every exit path after admission.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		session.Close(ctx)
	}()

	if err := session.Activate(r.Context()); err != nil {
		cm.logger.Warn().Err(err).Str("conn", connID).Msg("Session activation aborted")
		return
	}

	cm.logger.Info().Str("user", session.Identity().UserID).Str("conn", connID).Msg("User connected via WebSocket.")

	cm.readLoop(r.Context(), conn, session)
}

// readLoop processes the connection's events in arrival order until the
// client disconnects.
func (cm *ConnectionManager) readLoop(ctx context.Context, conn *websocket.Conn, session *Session) {
	for {
		var event ClientEvent
		if err := conn.ReadJSON(&event); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				// The connection survives a malformed message.
				if emitErr := session.emitter.Emit(ackError("invalid event payload")); emitErr == nil {
					continue
				}
			}
			// Client disconnected or the transport failed.
			return
		}

		switch event.Type {
		case EventSendNotification:
			ack := session.HandleSend(ctx, event)
			if err := session.emitter.Emit(ack); err != nil {
				return
			}
		default:
			if err := session.emitter.Emit(ackError("unknown event type: " + event.Type)); err != nil {
				return
			}
		}
	}
}

// connEmitter serializes writes to one websocket connection. Live publishes
// and the read loop emit concurrently; gorilla connections allow only one
// concurrent writer.
type connEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnEmitter(conn *websocket.Conn) *connEmitter {
	return &connEmitter{conn: conn}
}

func (e *connEmitter) Emit(event any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(event)
}

// bearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser websocket clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
