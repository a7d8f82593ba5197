// Package ratelimit implements fixed-window request limiting keyed by
// client identity. It runs before authentication, so it also throttles
// unauthenticated abuse, and is independent of tier quotas.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
)

// Result is the outcome of one limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per identity in fixed windows. The window
// start is embedded in the Redis key, so record expiry is the window
// reset; there is no sweep.
type Limiter struct {
	store *store.Store
	class string
	cfg   config.WindowConfig
}

// NewLimiter creates a limiter for one endpoint class ("public",
// "keyed", ...). Class is part of the key namespace so classes never
// share windows.
func NewLimiter(st *store.Store, class string, cfg config.WindowConfig) *Limiter {
	return &Limiter{store: st, class: class, cfg: cfg}
}

// Check counts this request against the identity's current window.
// Request maxRequests+1 within a window is the first denied. On store
// failure the limiter fails open: throttling is bookkeeping and must
// never take the API down with it.
func (l *Limiter) Check(ctx context.Context, identity string) Result {
	now := time.Now().UTC()
	windowStart := now.Truncate(l.cfg.Window)
	resetAt := windowStart.Add(l.cfg.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", l.class, identity, windowStart.Unix())

	count, err := l.store.Increment(ctx, key, l.cfg.Window+time.Second)
	if err != nil {
		slog.Warn("rate limiter store error, failing open", "error", err, "identity", identity)
		return Result{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests, ResetAt: resetAt}
	}

	remaining := l.cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(l.cfg.MaxRequests),
		Limit:     l.cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// ClientIP extracts the caller's IP for use as a rate-limit identity,
// preferring reverse-proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
