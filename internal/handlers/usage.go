package handlers

import (
	"net/http"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/gate"
	"github.com/victormendozamx/crypto-data-aggregator/internal/usage"
)

// KeyUsageResponse is what a key holder sees on the developer
// dashboard: their tier, counters, and remaining daily allowance.
type KeyUsageResponse struct {
	KeyID           string     `json:"key_id"`
	Key             string     `json:"key"`
	Tier            string     `json:"tier"`
	UsageToday      int        `json:"usage_today"`
	UsageMonth      int        `json:"usage_month"`
	RequestsPerDay  int        `json:"requests_per_day"`
	Remaining       int        `json:"remaining"`
	ResetsAt        time.Time  `json:"resets_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	SubscriptionEnd *time.Time `json:"subscription_expires_at,omitempty"`
	PriceDisplay    string     `json:"price_display"`
	Features        []string   `json:"features"`
}

// KeyUsage reports the calling key's quota state. Mounted behind the
// gate's RequireKey middleware.
type KeyUsage struct {
	tiers config.TierTable
}

func NewKeyUsage(tiers config.TierTable) *KeyUsage {
	return &KeyUsage{tiers: tiers}
}

func (h *KeyUsage) Get(w http.ResponseWriter, r *http.Request) {
	principal := gate.GetPrincipal(r.Context())
	if principal == nil || principal.Key == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	key := principal.Key
	tier := h.tiers.Get(key.Tier)

	api.JSON(w, http.StatusOK, KeyUsageResponse{
		KeyID:           key.ID,
		Key:             key.MaskedSecret(),
		Tier:            key.Tier,
		UsageToday:      key.UsageToday,
		UsageMonth:      key.UsageMonth,
		RequestsPerDay:  tier.RequestsPerDay,
		Remaining:       usage.Remaining(tier, key.UsageToday),
		ResetsAt:        usage.NextUTCMidnight(time.Now()),
		LastUsedAt:      key.LastUsedAt,
		SubscriptionEnd: key.SubscriptionExpiresAt,
		PriceDisplay:    tier.PriceDisplay,
		Features:        tier.Features,
	})
}
