// --- File: internal/ratelimit/limiter.go ---
// Package ratelimit implements fixed-window admission control keyed by an
// arbitrary string. Two independently configured instances gate the service:
// one for inbound HTTP requests keyed by origin address, one for realtime
// traffic keyed by verified identity.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config holds the window parameters for one limiter instance.
type Config struct {
	Window  time.Duration
	Ceiling int
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// Remaining is the number of admissions left in the current window.
	Remaining int
	// RetryAfter is the time left in the current window. Only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is a keyed fixed-window counter. Safe for concurrent use. The
// clock is injectable so window boundaries can be tested deterministically.
type Limiter struct {
	cfg   Config
	clock func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a limiter. A nil clock defaults to time.Now.
func New(cfg Config, clock func() time.Time) (*Limiter, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}
	if cfg.Ceiling <= 0 {
		return nil, fmt.Errorf("ratelimit: ceiling must be positive, got %d", cfg.Ceiling)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[string]*window),
	}, nil
}

// Admit checks the key against its current window. The first request for a
// key, or the first after its window elapses, starts a fresh window with
// count 1 and is always admitted.
func (l *Limiter) Admit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		l.windows[key] = &window{start: now, count: 1}
		return Decision{Allowed: true, Remaining: l.cfg.Ceiling - 1}
	}

	if w.count >= l.cfg.Ceiling {
		return Decision{
			Allowed:    false,
			RetryAfter: l.cfg.Window - now.Sub(w.start),
		}
	}

	w.count++
	return Decision{Allowed: true, Remaining: l.cfg.Ceiling - w.count}
}

// Evict drops the window for a key. The disconnect path must call this for
// identity-scoped keys, otherwise abandoned counters accumulate for as long
// as the process lives.
func (l *Limiter) Evict(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
