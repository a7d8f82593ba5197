package sweeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/keys"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
)

func setupSweeper(t *testing.T) (*Sweeper, *keys.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	registry := keys.NewRegistry(store.New(client))
	return New(registry), registry
}

func putKey(t *testing.T, registry *keys.Registry, id, tier string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, registry.Put(context.Background(), &keys.ApiKey{
		ID: id, Secret: "secret-" + id, Tier: tier, Active: true,
		SubscriptionExpiresAt: expiresAt, CreatedAt: time.Now().UTC(),
	}))
}

func TestSweeper_DowngradesOnlyExpiredPaidKeys(t *testing.T) {
	sw, registry := setupSweeper(t)
	ctx := context.Background()

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	tomorrow := time.Now().UTC().Add(24 * time.Hour)

	putKey(t, registry, "expired-pro", config.TierPro, &yesterday)
	putKey(t, registry, "current-pro", config.TierPro, &tomorrow)
	putKey(t, registry, "free-key", config.TierFree, nil)

	report := sw.Sweep(ctx)

	// Only the expired paid key matches the sweep filter; the current
	// pro key and the free key never enter the report.
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Downgraded)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.Errors)

	got, err := registry.GetByID(ctx, "expired-pro")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, got.Tier)
	assert.Nil(t, got.SubscriptionExpiresAt)

	got, err = registry.GetByID(ctx, "current-pro")
	require.NoError(t, err)
	assert.Equal(t, config.TierPro, got.Tier, "unexpired subscription untouched")
}

func TestSweeper_PaidKeyWithoutExpiryNeverExpires(t *testing.T) {
	sw, registry := setupSweeper(t)

	putKey(t, registry, "eternal-pro", config.TierPro, nil)

	report := sw.Sweep(context.Background())
	assert.Equal(t, 0, report.Checked)
	assert.Equal(t, 0, report.Expired)
}

func TestSweeper_Rerunnable(t *testing.T) {
	sw, registry := setupSweeper(t)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	putKey(t, registry, "expired-pro", config.TierPro, &yesterday)

	first := sw.Sweep(context.Background())
	assert.Equal(t, 1, first.Downgraded)

	// The second tick finds nothing left to do.
	second := sw.Sweep(context.Background())
	assert.Equal(t, 0, second.Checked)
	assert.Equal(t, 0, second.Downgraded)
	assert.Equal(t, 0, second.Failed)
}

func TestSweeper_EmptyStore(t *testing.T) {
	sw, _ := setupSweeper(t)

	report := sw.Sweep(context.Background())
	assert.Equal(t, 0, report.Checked)
	assert.Empty(t, report.Errors)
}

func TestHandler_RequiresBearerSecret(t *testing.T) {
	sw, registry := setupSweeper(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	putKey(t, registry, "expired-pro", config.TierPro, &yesterday)

	h := NewHandler(sw, config.CronConfig{Secret: "cron-secret", Environment: "production"})

	// No credential
	rec := httptest.NewRecorder()
	h.ExpireSubscriptions(rec, httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong secret
	req := httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ExpireSubscriptions(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct secret via header
	req = httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec = httptest.NewRecorder()
	h.ExpireSubscriptions(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Downgraded)
}

func TestHandler_AcceptsQuerySecret(t *testing.T) {
	sw, _ := setupSweeper(t)
	h := NewHandler(sw, config.CronConfig{Secret: "cron-secret", Environment: "production"})

	req := httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions?secret=cron-secret", nil)
	rec := httptest.NewRecorder()
	h.ExpireSubscriptions(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_NoSecretOutsideProduction(t *testing.T) {
	sw, _ := setupSweeper(t)

	// Development without a secret: open trigger.
	h := NewHandler(sw, config.CronConfig{Environment: "development"})
	rec := httptest.NewRecorder()
	h.ExpireSubscriptions(rec, httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Production without a secret: always denied.
	h = NewHandler(sw, config.CronConfig{Environment: "production"})
	rec = httptest.NewRecorder()
	h.ExpireSubscriptions(rec, httptest.NewRequest("POST", "/api/v1/cron/expire-subscriptions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
