// --- File: internal/auth/verifier.go ---
// Package auth verifies the bearer credentials presented at connection
// admission time. Tokens are HS256 JWTs signed with the service's configured
// secret; the subject claim carries the stable user identity.
package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Verifier validates signed bearer tokens. It implements notify.Verifier.
type Verifier struct {
	secret []byte
	ttl    time.Duration
	clock  jwt.Clock
}

// NewVerifier creates a verifier for the given signing secret and token
// lifetime. A nil clock defaults to the wall clock.
func NewVerifier(secret string, ttl time.Duration, clock func() time.Time) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: signing secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("auth: token lifetime must be positive, got %s", ttl)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  jwt.ClockFunc(clock),
	}, nil
}

// Verify checks the token's signature and expiry and returns the identity it
// carries. Any failure, including a missing token, is reported as an
// *notify.AuthenticationError; Verify never panics and has no side effects.
func (v *Verifier) Verify(credential string) (notify.Identity, error) {
	if credential == "" {
		return notify.Identity{}, &notify.AuthenticationError{Reason: "missing token"}
	}

	token, err := jwt.Parse(
		[]byte(credential),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(v.clock),
	)
	if err != nil {
		if jwt.IsValidationError(err) {
			return notify.Identity{}, &notify.AuthenticationError{Reason: "token expired or not yet valid"}
		}
		return notify.Identity{}, &notify.AuthenticationError{Reason: "invalid token signature"}
	}

	subject := token.Subject()
	if subject == "" {
		return notify.Identity{}, &notify.AuthenticationError{Reason: "token has no subject"}
	}

	return notify.Identity{UserID: subject}, nil
}

// Issue mints a signed token for the given user identity, valid for the
// configured lifetime. Used by tests and local tooling; production clients
// obtain tokens from the identity service.
func (v *Verifier) Issue(userID string) (string, error) {
	now := v.clock.Now()
	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(v.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
