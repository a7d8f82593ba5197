package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Tiers     TierTable
	RateLimit RateLimitConfig
	X402      X402Config
	Cron      CronConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Tier names. Keys are created with one of these and only ever move
// downward (the sweeper downgrades expired paid tiers to free).
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// UnlimitedRequests is the sentinel for tiers with no daily cap.
const UnlimitedRequests = -1

// TierConfig describes one tier's quota and display metadata.
type TierConfig struct {
	RequestsPerDay int
	PriceDisplay   string
	Features       []string
}

// Unlimited reports whether the tier has no daily request cap.
func (t TierConfig) Unlimited() bool {
	return t.RequestsPerDay == UnlimitedRequests
}

// TierTable maps tier name to its configuration. Loaded once at startup
// and passed explicitly; never mutated at runtime.
type TierTable map[string]TierConfig

// Get returns the tier's config, falling back to free for unknown tiers
// so a corrupt record degrades rather than escalates.
func (tt TierTable) Get(tier string) TierConfig {
	if cfg, ok := tt[tier]; ok {
		return cfg
	}
	return tt[TierFree]
}

// WindowConfig is one fixed-window rate limit class.
type WindowConfig struct {
	MaxRequests int
	Window      time.Duration
}

type RateLimitConfig struct {
	// Public applies to unauthenticated traffic, keyed by client IP.
	Public WindowConfig
	// Keyed applies to requests carrying an API key, keyed by the key.
	Keyed WindowConfig
}

// X402Config parameterizes the x402 micropayment scheme: which network
// and asset payments settle in, where they go, and how the external
// facilitator is reached.
type X402Config struct {
	FacilitatorURL string
	Network        string
	Asset          string
	PayTo          string
	// PriceAtomic is the per-request price in the asset's smallest unit
	// (USDC has 6 decimals, so 10000 = $0.01).
	PriceAtomic   int64
	VerifyTimeout time.Duration
}

type CronConfig struct {
	Secret      string
	Environment string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		RateLimit: RateLimitConfig{
			Public: WindowConfig{
				MaxRequests: k.Int("ratelimit.public.max"),
				Window:      time.Duration(k.Int("ratelimit.public.window.sec")) * time.Second,
			},
			Keyed: WindowConfig{
				MaxRequests: k.Int("ratelimit.keyed.max"),
				Window:      time.Duration(k.Int("ratelimit.keyed.window.sec")) * time.Second,
			},
		},
		X402: X402Config{
			FacilitatorURL: k.String("x402.facilitator.url"),
			Network:        k.String("x402.network"),
			Asset:          k.String("x402.asset"),
			PayTo:          k.String("x402.payto"),
			PriceAtomic:    k.Int64("x402.price.atomic"),
			VerifyTimeout:  time.Duration(k.Int("x402.verify.timeout.sec")) * time.Second,
		},
		Cron: CronConfig{
			Secret:      k.String("cron.secret"),
			Environment: k.String("environment"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.RateLimit.Public.MaxRequests == 0 {
		cfg.RateLimit.Public.MaxRequests = 30
	}
	if cfg.RateLimit.Public.Window == 0 {
		cfg.RateLimit.Public.Window = time.Minute
	}
	if cfg.RateLimit.Keyed.MaxRequests == 0 {
		cfg.RateLimit.Keyed.MaxRequests = 120
	}
	if cfg.RateLimit.Keyed.Window == 0 {
		cfg.RateLimit.Keyed.Window = time.Minute
	}
	if cfg.X402.FacilitatorURL == "" {
		cfg.X402.FacilitatorURL = "https://x402.org/facilitator"
	}
	if cfg.X402.Network == "" {
		cfg.X402.Network = "base"
	}
	if cfg.X402.Asset == "" {
		// USDC on Base mainnet
		cfg.X402.Asset = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	}
	if cfg.X402.PriceAtomic == 0 {
		cfg.X402.PriceAtomic = 10000 // $0.01 in 6-decimal USDC
	}
	if cfg.X402.VerifyTimeout == 0 {
		cfg.X402.VerifyTimeout = 5 * time.Second
	}
	if cfg.Cron.Environment == "" {
		cfg.Cron.Environment = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	cfg.Tiers = DefaultTiers()

	return cfg, nil
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() TierTable {
	return TierTable{
		TierFree: {
			RequestsPerDay: 100,
			PriceDisplay:   "$0/mo",
			Features:       []string{"news", "coins", "basic market data"},
		},
		TierPro: {
			RequestsPerDay: 10000,
			PriceDisplay:   "$29/mo",
			Features:       []string{"news", "coins", "defi", "historical data"},
		},
		TierEnterprise: {
			RequestsPerDay: UnlimitedRequests,
			PriceDisplay:   "custom",
			Features:       []string{"news", "coins", "defi", "historical data", "priority support"},
		},
	}
}
