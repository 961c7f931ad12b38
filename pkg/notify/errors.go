// --- File: pkg/notify/errors.go ---
package notify

import (
	"fmt"
	"time"
)

// AuthenticationError reports a bad, missing, or expired credential. The
// connection attempt is refused; the server does not retry.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// RateLimitError reports a denied admission. RetryAfter is the time left in
// the current window; the client is expected to retry after it elapses.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// FieldError describes a single malformed request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed request input. It is surfaced to the
// immediate caller and is never logged as a system fault.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("validation failed: %d invalid fields", len(e.Fields))
}

// StorageError wraps a ledger read or write failure. It is logged and
// surfaced to the caller as a generic failure; the session remains usable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BusError wraps a broadcast-bus failure. Local delivery still proceeds;
// cross-instance forwarding is best-effort.
type BusError struct {
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("broadcast bus unavailable: %v", e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
