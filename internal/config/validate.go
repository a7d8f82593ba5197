package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Payment destination: must be a 0x-prefixed 20-byte hex address
	if err := validate.Var(c.X402.PayTo, "required,eth_addr"); err != nil {
		errs = append(errs, "X402_PAYTO must be a valid 0x address")
	}
	if err := validate.Var(c.X402.Asset, "required,eth_addr"); err != nil {
		errs = append(errs, "X402_ASSET must be a valid 0x address")
	}
	if err := validate.Var(c.X402.FacilitatorURL, "required,url"); err != nil {
		errs = append(errs, "X402_FACILITATOR_URL must be a valid URL")
	}
	if c.X402.PriceAtomic < 0 {
		errs = append(errs, "X402_PRICE_ATOMIC must be non-negative")
	}

	// Rate limit windows
	if c.RateLimit.Public.MaxRequests < 1 || c.RateLimit.Keyed.MaxRequests < 1 {
		errs = append(errs, "rate limit max requests must be at least 1")
	}

	// Cron secret: hard requirement in production, warn otherwise
	if c.Cron.Secret == "" {
		if c.Cron.Environment == "production" {
			errs = append(errs, "CRON_SECRET is required in production")
		} else {
			slog.Warn("CRON_SECRET is empty — cron endpoints are unauthenticated")
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
