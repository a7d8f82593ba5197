package usage

import (
	"context"
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

func setupMeter(t *testing.T) (*Meter, *keys.Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.New(client)
	registry := keys.NewRegistry(st)
	return NewMeter(st, registry, config.DefaultTiers()), registry, mr
}

func TestMeter_RecordUseIncrementsCounters(t *testing.T) {
	meter, registry, _ := setupMeter(t)
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, &keys.ApiKey{
		ID: "key-1", Secret: "s1", Tier: config.TierFree, Active: true,
	}))

	for i := 0; i < 3; i++ {
		meter.RecordUse(ctx, "key-1")
	}

	today, err := meter.Today(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 3, today)

	month, err := meter.Month(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 3, month)
}

func TestMeter_RecordUseStampsLastUsed(t *testing.T) {
	meter, registry, _ := setupMeter(t)
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, &keys.ApiKey{
		ID: "key-2", Secret: "s2", Tier: config.TierFree, Active: true,
	}))

	meter.RecordUse(ctx, "key-2")

	got, err := registry.GetByID(ctx, "key-2")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastUsedAt, 5*time.Second)
}

func TestMeter_RecordUseSurvivesStoreLoss(t *testing.T) {
	meter, _, mr := setupMeter(t)
	mr.Close()

	// Must not panic or block: bookkeeping failures are swallowed.
	meter.RecordUse(context.Background(), "key-3")
}

func TestRemaining(t *testing.T) {
	free := config.TierConfig{RequestsPerDay: 100}

	assert.Equal(t, 100, Remaining(free, 0))
	assert.Equal(t, 1, Remaining(free, 99))
	assert.Equal(t, 0, Remaining(free, 100))
	assert.Equal(t, 0, Remaining(free, 250), "over-consumption clamps to zero")
}

func TestRemaining_UnlimitedTier(t *testing.T) {
	enterprise := config.TierConfig{RequestsPerDay: config.UnlimitedRequests}

	assert.Equal(t, config.UnlimitedRequests, Remaining(enterprise, 0))
	assert.Equal(t, config.UnlimitedRequests, Remaining(enterprise, 1_000_000))
}

func TestNextUTCMidnight(t *testing.T) {
	at := time.Date(2026, 8, 30, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), NextUTCMidnight(at))

	// Month boundary
	eom := time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), NextUTCMidnight(eom))
}
