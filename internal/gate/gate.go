// Package gate composes the key registry, usage meter, rate limiter
// and payment verifier into the single authorize decision run on every
// inbound request.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/metrics"
	"github.com/victormendozamx/crypto-data-aggregator/internal/payment"
	"github.com/victormendozamx/crypto-data-aggregator/internal/ratelimit"
	"github.com/victormendozamx/crypto-data-aggregator/internal/usage"
)

// Via identifies which trust model authorized a request.
type Via string

const (
	ViaKey     Via = "key"
	ViaPayment Via = "payment"
)

// Credentials is everything the gate reads from a request.
type Credentials struct {
	APIKey       string
	PaymentProof string
	ClientIP     string
}

// Denial describes a terminal rejection.
type Denial struct {
	Err        *api.AppError
	RetryAfter time.Duration
	// Payment is set on 402 denials: the full requirements a client
	// needs to construct a proof and retry.
	Payment *payment.RequiredResponse
}

// Decision is the gate's verdict. Exactly one of the allow fields or
// Denial is meaningful. Limit/Remaining/ResetAt describe quota state
// for response headers on the key path.
type Decision struct {
	Allowed    bool
	Via        Via
	Principal  string
	Key        *keys.ApiKey
	AmountPaid string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	Denial     *Denial
}

// Gate is a pure function of (request credentials, current store
// state); it holds no mutable state of its own.
type Gate struct {
	registry      *keys.Registry
	meter         *usage.Meter
	publicLimiter *ratelimit.Limiter
	keyedLimiter  *ratelimit.Limiter
	verifier      *payment.Verifier
	tiers         config.TierTable
}

func New(
	registry *keys.Registry,
	meter *usage.Meter,
	publicLimiter, keyedLimiter *ratelimit.Limiter,
	verifier *payment.Verifier,
	tiers config.TierTable,
) *Gate {
	return &Gate{
		registry:      registry,
		meter:         meter,
		publicLimiter: publicLimiter,
		keyedLimiter:  keyedLimiter,
		verifier:      verifier,
		tiers:         tiers,
	}
}

// Authorize runs the total-order decision for one request against the
// named endpoint:
//
//  1. rate limit (keyed by key ID when the key resolves, else client IP)
//  2. key path: quota check, record use
//  3. payment path: verify proof with the facilitator
//  4. neither credential: payment-required with how-to-pay payload
//
// An invalid or inactive key falls through to the payment path rather
// than denying outright: a request may carry a stale key and still
// have a valid proof attached.
func (g *Gate) Authorize(ctx context.Context, cred Credentials, endpoint string) *Decision {
	// Resolve the presented key up front so the limiter identity is
	// the key's ID, never the raw secret. A made-up key shares the
	// caller's IP window instead of minting its own.
	var key *keys.ApiKey
	if cred.APIKey != "" {
		key = g.resolveActiveKey(ctx, cred.APIKey)
	}

	// 1. Rate limit before any authorization decision.
	limiter, identity := g.publicLimiter, cred.ClientIP
	if key != nil {
		limiter, identity = g.keyedLimiter, key.ID
	}
	rl := limiter.Check(ctx, identity)
	if !rl.Allowed {
		metrics.AuthDecisionsTotal.WithLabelValues("rate_limited", "none").Inc()
		return &Decision{
			Limit:     rl.Limit,
			Remaining: rl.Remaining,
			ResetAt:   rl.ResetAt,
			Denial: &Denial{
				Err:        api.ErrRateLimited,
				RetryAfter: time.Until(rl.ResetAt),
			},
		}
	}

	// 2. Key path.
	if key != nil {
		return g.authorizeKey(ctx, key)
	}

	// 3. Payment path.
	if cred.PaymentProof != "" {
		return g.authorizePayment(ctx, cred.PaymentProof, endpoint)
	}

	// 4. No usable credential: advertise how to pay.
	metrics.AuthDecisionsTotal.WithLabelValues("payment_required", "none").Inc()
	return &Decision{
		Denial: &Denial{
			Err:     api.ErrPaymentRequired,
			Payment: g.verifier.RequiredResponse(endpoint, api.ErrPaymentRequired.Message),
		},
	}
}

// resolveActiveKey returns the record for a presented secret, or nil
// when it cannot authenticate and the request should fall through to
// the payment path.
func (g *Gate) resolveActiveKey(ctx context.Context, secret string) *keys.ApiKey {
	key, err := g.registry.Resolve(ctx, secret)
	if err != nil {
		if !errors.Is(err, keys.ErrKeyNotFound) {
			slog.Warn("key resolution failed", "error", err)
		}
		return nil
	}
	if !key.Active {
		return nil
	}
	return key
}

// authorizeKey is the terminal decision for a resolved active key:
// quota denial or allow-and-meter.
func (g *Gate) authorizeKey(ctx context.Context, key *keys.ApiKey) *Decision {
	tier := g.tiers.Get(key.Tier)
	remaining := usage.Remaining(tier, key.UsageToday)
	resetAt := usage.NextUTCMidnight(time.Now())

	if remaining == 0 && !tier.Unlimited() {
		metrics.AuthDecisionsTotal.WithLabelValues("quota_exceeded", string(ViaKey)).Inc()
		return &Decision{
			Key:       key,
			Limit:     tier.RequestsPerDay,
			Remaining: 0,
			ResetAt:   resetAt,
			Denial: &Denial{
				Err:        api.ErrQuotaExceeded,
				RetryAfter: time.Until(resetAt),
			},
		}
	}

	// Record after the allow decision; a failed increment undercounts
	// rather than blocking the request.
	g.meter.RecordUse(ctx, key.ID)

	// Report the state the next request will see.
	if !tier.Unlimited() {
		remaining--
	}

	metrics.AuthDecisionsTotal.WithLabelValues("allowed", string(ViaKey)).Inc()
	return &Decision{
		Allowed:   true,
		Via:       ViaKey,
		Principal: key.ID,
		Key:       key,
		Limit:     tier.RequestsPerDay,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func (g *Gate) authorizePayment(ctx context.Context, proofHeader, endpoint string) *Decision {
	proof, err := payment.DecodeProof(proofHeader)
	if err != nil {
		metrics.AuthDecisionsTotal.WithLabelValues("payment_required", string(ViaPayment)).Inc()
		return &Decision{
			Denial: &Denial{
				Err:     api.ErrPaymentRequired,
				Payment: g.verifier.RequiredResponse(endpoint, "invalid payment proof: "+err.Error()),
			},
		}
	}

	result, err := g.verifier.Verify(ctx, proof, endpoint)
	if err != nil {
		// Facilitator unreachable: fail closed, but tell the client the
		// problem is upstream rather than with their proof.
		metrics.AuthDecisionsTotal.WithLabelValues("upstream_unavailable", string(ViaPayment)).Inc()
		return &Decision{
			Denial: &Denial{Err: api.ErrUpstreamUnavailable},
		}
	}

	if !result.OK {
		metrics.AuthDecisionsTotal.WithLabelValues("payment_required", string(ViaPayment)).Inc()
		return &Decision{
			Denial: &Denial{
				Err:     api.ErrPaymentRequired,
				Payment: g.verifier.RequiredResponse(endpoint, "payment verification failed: "+result.Reason),
			},
		}
	}

	// Pay-per-use: no meter bookkeeping on the payment path.
	metrics.AuthDecisionsTotal.WithLabelValues("allowed", string(ViaPayment)).Inc()
	return &Decision{
		Allowed:    true,
		Via:        ViaPayment,
		Principal:  result.Payer,
		AmountPaid: result.Amount,
	}
}
