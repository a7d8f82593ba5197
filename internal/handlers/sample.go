package handlers

import "time"

// SampleSource is the built-in DataSource used until an upstream
// aggregator is wired in; it also backs the end-to-end tests.
type SampleSource struct {
	Articles []Article
	Entries  []Coin
}

func NewSampleSource() *SampleSource {
	now := time.Now().UTC()
	return &SampleSource{
		Articles: []Article{
			{Title: "Bitcoin holds above 60k as ETF inflows continue", Source: "sample", URL: "https://example.com/btc-etf", PublishedAt: now.Add(-time.Hour)},
			{Title: "Base network activity hits new high", Source: "sample", URL: "https://example.com/base-activity", PublishedAt: now.Add(-2 * time.Hour)},
		},
		Entries: []Coin{
			{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 60412.17},
			{ID: "ethereum", Symbol: "eth", Name: "Ethereum", CurrentPrice: 2391.55},
			{ID: "usd-coin", Symbol: "usdc", Name: "USDC", CurrentPrice: 1.0},
		},
	}
}

func (s *SampleSource) LatestNews(limit int) []Article {
	if limit > 0 && limit < len(s.Articles) {
		return s.Articles[:limit]
	}
	return s.Articles
}

func (s *SampleSource) Coins() []Coin {
	return s.Entries
}

func (s *SampleSource) Coin(id string) (Coin, bool) {
	for _, c := range s.Entries {
		if c.ID == id {
			return c, true
		}
	}
	return Coin{}, false
}
