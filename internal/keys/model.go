package keys

import "time"

// ApiKey is the persisted record for one issued key. Records are never
// deleted: revocation flips Active, expiry downgrades Tier, and usage
// history stays attributable to the ID.
type ApiKey struct {
	ID                    string     `json:"id"`
	Secret                string     `json:"secret"`
	Tier                  string     `json:"tier"`
	Active                bool       `json:"active"`
	UsageToday            int        `json:"usage_today"`
	UsageMonth            int        `json:"usage_month"`
	LastUsedAt            *time.Time `json:"last_used_at,omitempty"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	Email                 string     `json:"email,omitempty"`
	Permissions           []string   `json:"permissions,omitempty"`
}

// MaskedSecret returns the secret's prefix for display; the full secret
// is never echoed back to callers.
func (k *ApiKey) MaskedSecret() string {
	if len(k.Secret) <= 12 {
		return k.Secret
	}
	return k.Secret[:12] + "..."
}

// SubscriptionExpired reports whether the key carries a paid
// subscription that has lapsed as of now. Keys with a nil expiry never
// expire (free tier).
func (k *ApiKey) SubscriptionExpired(now time.Time) bool {
	return k.SubscriptionExpiresAt != nil && k.SubscriptionExpiresAt.Before(now)
}
