// Package usage meters per-key request counts against tier quotas.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
)

// Counter TTLs. Day counters only need to outlive their UTC day and
// month counters their month; rollover is implicit in the date-keyed
// names, so stale counters simply age out.
const (
	dayCounterTTL   = 48 * time.Hour
	monthCounterTTL = 32 * 24 * time.Hour
)

// Meter records and reads per-key usage. Increments go through the
// store's atomic INCR, so concurrent requests for the same key never
// lose counts.
type Meter struct {
	store    *store.Store
	registry *keys.Registry
	tiers    config.TierTable
}

func NewMeter(st *store.Store, registry *keys.Registry, tiers config.TierTable) *Meter {
	return &Meter{store: st, registry: registry, tiers: tiers}
}

// RecordUse bumps the key's daily and monthly counters and stamps
// last-used. Failures are logged and swallowed: a missed increment
// undercounts, which is acceptable; blocking an already-authorized
// request is not.
func (m *Meter) RecordUse(ctx context.Context, keyID string) {
	now := time.Now().UTC()

	if _, err := m.store.Increment(ctx, store.UsageDayKey(keyID, now), dayCounterTTL); err != nil {
		slog.Warn("recording daily usage failed", "key_id", keyID, "error", err)
	}
	if _, err := m.store.Increment(ctx, store.UsageMonthKey(keyID, now), monthCounterTTL); err != nil {
		slog.Warn("recording monthly usage failed", "key_id", keyID, "error", err)
	}
	if err := m.registry.Touch(ctx, keyID, now); err != nil {
		slog.Warn("updating last-used failed", "key_id", keyID, "error", err)
	}
}

// Today returns the key's request count for the current UTC day.
func (m *Meter) Today(ctx context.Context, keyID string) (int, error) {
	n, err := m.store.GetInt(ctx, store.UsageDayKey(keyID, time.Now().UTC()))
	return int(n), err
}

// Month returns the key's request count for the current UTC month.
func (m *Meter) Month(ctx context.Context, keyID string) (int, error) {
	n, err := m.store.GetInt(ctx, store.UsageMonthKey(keyID, time.Now().UTC()))
	return int(n), err
}

// Remaining computes the key's remaining daily allowance for its tier.
// Returns config.UnlimitedRequests for uncapped tiers.
func (m *Meter) Remaining(tier string, usedToday int) int {
	return Remaining(m.tiers.Get(tier), usedToday)
}

// Remaining is the pure quota arithmetic: -1 for unlimited tiers,
// otherwise max(0, limit-used).
func Remaining(tier config.TierConfig, usedToday int) int {
	if tier.Unlimited() {
		return config.UnlimitedRequests
	}
	if rem := tier.RequestsPerDay - usedToday; rem > 0 {
		return rem
	}
	return 0
}

// NextUTCMidnight returns the instant daily counters roll over.
func NextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
