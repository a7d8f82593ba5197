// Package handlers holds the route handlers behind the authorization
// gate. Upstream aggregation is out of scope here; these serve the
// gateway's own view of the data it fronts.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/victormendozamx/crypto-data-aggregator/internal/api"
)

// Article is one aggregated news item.
type Article struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Coin is one market-data entry.
type Coin struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	CurrentPrice float64 `json:"current_price"`
}

// DataSource supplies the gated content. The production implementation
// proxies upstream aggregators; tests inject fixtures.
type DataSource interface {
	LatestNews(limit int) []Article
	Coins() []Coin
	Coin(id string) (Coin, bool)
}

// Data serves the priced market-data endpoints.
type Data struct {
	source DataSource
}

func NewData(source DataSource) *Data {
	return &Data{source: source}
}

func (h *Data) News(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.source.LatestNews(20))
}

func (h *Data) ListCoins(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.source.Coins())
}

func (h *Data) GetCoin(w http.ResponseWriter, r *http.Request) {
	coin, ok := h.source.Coin(chi.URLParam(r, "id"))
	if !ok {
		api.HandleError(w, api.ErrNotFound)
		return
	}
	api.JSON(w, http.StatusOK, coin)
}
