// --- File: internal/ratelimit/middleware.go ---
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Middleware adapts a limiter to an HTTP middleware keyed by the request's
// origin address. Denied requests get a 429 with a Retry-After header.
func Middleware(limiter *Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientAddr(r)

			decision := limiter.Admit(key)
			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Round(time.Second) / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				logger.Warn().
					Str("origin", key).
					Dur("retry_after", decision.RetryAfter).
					Msg("HTTP request rate limited")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests","retryAfter":` + strconv.Itoa(retryAfter) + `}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr extracts the origin address used as the rate-limit key. The
// port is stripped so one client maps to one counter across connections.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
