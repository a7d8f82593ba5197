// Package sweeper finds paid-tier keys whose subscription has lapsed
// and downgrades them to the free tier. It runs out of band, triggered
// by an external scheduler.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/metrics"
)

// Report summarizes one sweep run. Checked counts only the keys
// matching the sweep filter (paid tier with a lapsed subscription).
type Report struct {
	Checked    int      `json:"checked"`
	Expired    int      `json:"expired"`
	Downgraded int      `json:"downgraded"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Sweeper downgrades expired subscriptions through the registry.
type Sweeper struct {
	registry *keys.Registry
}

func New(registry *keys.Registry) *Sweeper {
	return &Sweeper{registry: registry}
}

// Sweep scans every key, downgrades paid tiers whose expiry is strictly
// before now, and aggregates the outcome. Per-key failures are isolated
// into the report; one bad record never aborts the rest. Safe to re-run
// on every scheduled tick.
func (s *Sweeper) Sweep(ctx context.Context) *Report {
	start := time.Now()
	report := &Report{}

	all, err := s.registry.ListAll(ctx)
	if err != nil {
		// ListAll is best-effort; an error still yields partial results.
		report.Errors = append(report.Errors, err.Error())
	}

	now := time.Now().UTC()
	for _, key := range all {
		// The sweep filter: paid tier with a lapsed subscription.
		// Free keys and unexpired subscriptions are invisible to the
		// report.
		if key.Tier == config.TierFree || !key.SubscriptionExpired(now) {
			continue
		}
		report.Checked++
		report.Expired++

		if _, err := s.registry.DowngradeToFree(ctx, key.ID); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("key %s: %v", key.ID, err))
			slog.Warn("downgrade failed, continuing sweep", "key_id", key.ID, "error", err)
			continue
		}
		report.Downgraded++
		metrics.SweepDowngradesTotal.Inc()
	}

	metrics.SweepRunsTotal.Inc()
	slog.Info("subscription sweep complete",
		"checked", report.Checked,
		"expired", report.Expired,
		"downgraded", report.Downgraded,
		"failed", report.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report
}
