// --- File: internal/api/response.go ---
package api

import (
	"encoding/json"
	"net/http"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// WriteJSON writes a JSON response body with the given status. A nil payload
// writes only the status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSONError writes a single-message error body.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteValidationErrors writes the structured field-error list for malformed
// input.
func WriteValidationErrors(w http.ResponseWriter, fields []notify.FieldError) {
	WriteJSON(w, http.StatusBadRequest, map[string]any{"errors": fields})
}
