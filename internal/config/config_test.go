package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Tiers:  DefaultTiers(),
		RateLimit: RateLimitConfig{
			Public: WindowConfig{MaxRequests: 30, Window: time.Minute},
			Keyed:  WindowConfig{MaxRequests: 120, Window: time.Minute},
		},
		X402: X402Config{
			FacilitatorURL: "https://x402.org/facilitator",
			Network:        "base",
			Asset:          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo:          "0x2222222222222222222222222222222222222222",
			PriceAtomic:    10000,
			VerifyTimeout:  5 * time.Second,
		},
		Cron: CronConfig{Secret: "s3cret", Environment: "production"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate_AcceptsGoodConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsBadPayTo(t *testing.T) {
	cfg := validConfig()
	cfg.X402.PayTo = "not-an-address"
	assert.ErrorContains(t, cfg.Validate(), "X402_PAYTO")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "SERVER_PORT")
}

func TestValidate_RequiresCronSecretInProduction(t *testing.T) {
	cfg := validConfig()
	cfg.Cron.Secret = ""
	assert.ErrorContains(t, cfg.Validate(), "CRON_SECRET")

	cfg.Cron.Environment = "development"
	assert.NoError(t, cfg.Validate())
}

func TestTierTable_UnknownTierFallsBackToFree(t *testing.T) {
	tiers := DefaultTiers()

	got := tiers.Get("platinum")
	assert.Equal(t, tiers[TierFree], got)
}

func TestTierTable_Defaults(t *testing.T) {
	tiers := DefaultTiers()

	assert.Equal(t, 100, tiers[TierFree].RequestsPerDay)
	assert.False(t, tiers[TierPro].Unlimited())
	assert.True(t, tiers[TierEnterprise].Unlimited())
}
