// --- File: notifyservice/notifyservice.go ---
package notifyservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/internal/api"
	"github.com/tinywideclouds/go-notification-service/internal/ratelimit"
	"github.com/tinywideclouds/go-notification-service/notifyservice/config"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Wrapper assembles the HTTP API surface: the webhook ingestion endpoint and
// the health probe. The WebSocket side lives in realtime.ConnectionManager and
// is started alongside this wrapper by internal/app.
type Wrapper struct {
	server        *http.Server
	apiHandler    *api.API
	logger        zerolog.Logger
	httpReadyChan chan struct{}
	addr          string
}

// New creates and wires up the HTTP API service.
func New(
	cfg *config.AppConfig,
	ledgerStore notify.Ledger,
	publisher notify.Publisher,
	httpLimiter *ratelimit.Limiter,
	logger zerolog.Logger,
) (*Wrapper, error) {
	if ledgerStore == nil || publisher == nil || httpLimiter == nil {
		return nil, errors.New("notifyservice.New: all dependencies are required")
	}

	apiHandler := api.NewAPI(
		cfg.WebhookAPIKey,
		ledgerStore,
		publisher,
		logger.With().Str("component", "API").Logger(),
		time.Now,
	)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger.With().Str("component", "HTTP").Logger()))
	r.Use(Cors(cfg.AllowedOrigins))

	r.Get("/health", apiHandler.HealthHandler)
	r.With(ratelimit.Middleware(httpLimiter, logger)).
		Post("/webhook/notify", apiHandler.WebhookHandler)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	return &Wrapper{
		server:        server,
		apiHandler:    apiHandler,
		logger:        logger,
		httpReadyChan: make(chan struct{}),
	}, nil
}

// Start serves the HTTP API. It blocks until the server stops or the context
// is cancelled.
func (w *Wrapper) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", w.server.Addr)
	if err != nil {
		return fmt.Errorf("HTTP server failed to listen on %s: %w", w.server.Addr, err)
	}
	w.addr = listener.Addr().String()
	close(w.httpReadyChan)
	w.logger.Info().Str("addr", w.addr).Msg("HTTP listener is active.")

	serverErrChan := make(chan error, 1)
	go func() {
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
		close(serverErrChan)
	}()

	select {
	case err := <-serverErrChan:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns a channel that is closed once the HTTP listener is active.
func (w *Wrapper) Ready() <-chan struct{} {
	return w.httpReadyChan
}

// Addr reports the bound listen address. Valid once Ready is closed; with
// port 0 this is how tests learn the assigned port.
func (w *Wrapper) Addr() string {
	return w.addr
}

// Shutdown gracefully stops the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API service...")
	if err := w.server.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("HTTP server shutdown failed.")
		return err
	}
	w.logger.Info().Msg("API service shut down.")
	return nil
}
