package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/gate"
	"github.com/victormendozamx/crypto-data-aggregator/internal/handlers"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/payment"
	"github.com/victormendozamx/crypto-data-aggregator/internal/ratelimit"
	iredis "github.com/victormendozamx/crypto-data-aggregator/internal/redis"
	"github.com/victormendozamx/crypto-data-aggregator/internal/server"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
	"github.com/victormendozamx/crypto-data-aggregator/internal/sweeper"
	"github.com/victormendozamx/crypto-data-aggregator/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	st := store.New(redisClient)

	// Authorization gate components
	registry := keys.NewRegistry(st)
	meter := usage.NewMeter(st, registry, cfg.Tiers)
	publicLimiter := ratelimit.NewLimiter(st, "public", cfg.RateLimit.Public)
	keyedLimiter := ratelimit.NewLimiter(st, "keyed", cfg.RateLimit.Keyed)
	verifier := payment.NewVerifier(cfg.X402)
	authGate := gate.New(registry, meter, publicLimiter, keyedLimiter, verifier, cfg.Tiers)

	// Sweeper
	sweepHandler := sweeper.NewHandler(sweeper.New(registry), cfg.Cron)

	// Handlers
	dataHandler := handlers.NewData(handlers.NewSampleSource())
	usageHandler := handlers.NewKeyUsage(cfg.Tiers)

	// Router
	router := api.NewRouter(api.RouterConfig{
		StorePing:          st.Ping,
		FacilitatorHealthy: verifier.Healthy,
	}, api.HandlerSet{
		News:     dataHandler.News,
		Coins:    dataHandler.ListCoins,
		CoinByID: dataHandler.GetCoin,

		KeyUsage: usageHandler.Get,

		ExpireSubscriptions: sweepHandler.ExpireSubscriptions,

		GateMiddleware:       authGate.Middleware,
		RequireKeyMiddleware: authGate.RequireKey,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
