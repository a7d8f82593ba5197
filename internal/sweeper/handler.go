package sweeper

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
)

// Handler exposes the sweep as an HTTP trigger for an external cron.
type Handler struct {
	sweeper *Sweeper
	cfg     config.CronConfig
}

func NewHandler(sweeper *Sweeper, cfg config.CronConfig) *Handler {
	return &Handler{sweeper: sweeper, cfg: cfg}
}

// ExpireSubscriptions runs a sweep when the caller presents the shared
// cron secret via Authorization: Bearer or a ?secret= query param.
// With no secret configured, the trigger stays open outside production
// only.
func (h *Handler) ExpireSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	report := h.sweeper.Sweep(r.Context())
	api.JSON(w, http.StatusOK, report)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.cfg.Secret == "" {
		if h.cfg.Environment == "production" {
			slog.Error("cron trigger rejected: no CRON_SECRET configured in production")
			return false
		}
		return true
	}

	presented := r.URL.Query().Get("secret")
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			presented = token
		}
	}

	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.cfg.Secret)) == 1
}
