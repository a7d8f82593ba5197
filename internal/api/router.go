package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/victormendozamx/crypto-data-aggregator/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid
// import cycles.
type HandlerSet struct {
	// Priced data endpoints (behind the hybrid gate)
	News     http.HandlerFunc
	Coins    http.HandlerFunc
	CoinByID http.HandlerFunc

	// Key self-service (behind RequireKey)
	KeyUsage http.HandlerFunc

	// Cron trigger
	ExpireSubscriptions http.HandlerFunc

	// Gate middlewares
	GateMiddleware       func(http.Handler) http.Handler
	RequireKeyMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	// Dependency probes for the readiness endpoint.
	StorePing          func(context.Context) error
	FacilitatorHealthy func(context.Context) bool
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks Redis and the payment facilitator
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":      "healthy",
			"store":       "healthy",
			"facilitator": "healthy",
		}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if cfg.StorePing != nil {
			if err := cfg.StorePing(ctx); err != nil {
				health["store"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["store"] = "not configured"
		}

		// A down facilitator degrades the payment path only; keyed
		// access still works, so readiness stays 200.
		if cfg.FacilitatorHealthy != nil {
			if !cfg.FacilitatorHealthy(ctx) {
				health["facilitator"] = "unhealthy"
				health["status"] = "degraded"
			}
		} else {
			health["facilitator"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Priced endpoints: key or x402 payment
		r.Group(func(r chi.Router) {
			r.Use(h.GateMiddleware)
			r.Get("/news", h.News)
			r.Get("/coins", h.Coins)
			r.Get("/coins/{id}", h.CoinByID)
		})

		// Key self-service: key only, never payment. /usage is the
		// path deployed SDKs call; /key/usage is its alias.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireKeyMiddleware)
			r.Get("/usage", h.KeyUsage)
			r.Get("/key/usage", h.KeyUsage)
		})

		// Scheduler trigger, shared-secret authenticated
		r.Post("/cron/expire-subscriptions", h.ExpireSubscriptions)
	})

	return r
}
