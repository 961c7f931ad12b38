// --- File: internal/api/webhook_handlers.go ---
// Package api defines the HTTP handlers for the notification service: the
// webhook ingestion endpoint and the health check.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-notification-service/internal/router"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

const maxMessageLength = 500

var recipientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{8,64}$`)

// API holds the dependencies for the stateless HTTP handlers.
type API struct {
	apiKey    []byte
	ledger    notify.Ledger
	publisher notify.Publisher
	logger    zerolog.Logger
	clock     func() time.Time
	startedAt time.Time
}

// NewAPI creates the handler set. The webhook API key is the static shared
// credential for machine producers; it is unrelated to the token-based
// identity path. A nil clock defaults to time.Now.
func NewAPI(apiKey string, ledger notify.Ledger, publisher notify.Publisher, logger zerolog.Logger, clock func() time.Time) *API {
	if clock == nil {
		clock = time.Now
	}
	return &API{
		apiKey:    []byte(apiKey),
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With().Str("component", "API").Logger(),
		clock:     clock,
		startedAt: clock(),
	}
}

type webhookRequest struct {
	RecipientID string `json:"recipientId"`
	Message     string `json:"message"`
	APIKey      string `json:"apiKey"`
}

// WebhookHandler ingests a notification from a machine producer. On success
// it records and publishes exactly as a live send would, with the sender
// fixed to the system sentinel.
func (a *API) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	var body webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteValidationErrors(w, []notify.FieldError{{Field: "body", Message: "invalid JSON"}})
		return
	}

	if fields := a.validateWebhook(body); len(fields) > 0 {
		// Bad credential and malformed input alike: the ledger and the
		// router are never touched.
		WriteValidationErrors(w, fields)
		return
	}

	log := a.logger.With().Str("recipient", body.RecipientID).Logger()

	notificationID, err := a.ledger.Record(r.Context(), notify.SenderSystem, body.RecipientID, body.Message, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to record webhook notification")
		WriteJSONError(w, http.StatusInternalServerError, "failed to store notification")
		return
	}

	envelope := notify.Envelope{
		NotificationID: notificationID,
		SenderID:       notify.SenderSystem,
		Message:        body.Message,
		SentAt:         a.clock(),
	}
	if err := a.publisher.Publish(r.Context(), router.ChannelFor(body.RecipientID), envelope); err != nil {
		log.Error().Err(err).Msg("Failed to publish webhook notification")
		WriteJSONError(w, http.StatusInternalServerError, "failed to publish notification")
		return
	}

	log.Debug().Int64("notification", notificationID).Msg("Webhook notification accepted")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) validateWebhook(body webhookRequest) []notify.FieldError {
	var fields []notify.FieldError

	// Constant-time comparison keeps the static credential check free of
	// timing side channels.
	if subtle.ConstantTimeCompare([]byte(body.APIKey), a.apiKey) != 1 {
		fields = append(fields, notify.FieldError{Field: "apiKey", Message: "invalid API key"})
	}
	if !recipientIDPattern.MatchString(body.RecipientID) {
		fields = append(fields, notify.FieldError{Field: "recipientId", Message: "must be 8-64 alphanumeric characters"})
	}
	if body.Message == "" {
		fields = append(fields, notify.FieldError{Field: "message", Message: "is required"})
	} else if len(body.Message) > maxMessageLength {
		fields = append(fields, notify.FieldError{Field: "message", Message: "must be at most 500 characters"})
	}

	return fields
}

// HealthHandler reports liveness. It touches no core state.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	now := a.clock()
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(a.startedAt).Seconds(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}
