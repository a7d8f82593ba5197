package keys

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
)

func setupRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.New(client)
	return NewRegistry(st), st
}

func proKey(id, secret string) *ApiKey {
	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	return &ApiKey{
		ID:                    id,
		Secret:                secret,
		Tier:                  config.TierPro,
		Active:                true,
		SubscriptionExpiresAt: &expires,
		CreatedAt:             time.Now().UTC(),
		Email:                 "dev@example.com",
		Permissions:           []string{"news", "coins"},
	}
}

func TestRegistry_ResolveRoundTrip(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()

	key := proKey("key-1", "cda_pro_abc123def456")
	require.NoError(t, reg.Put(ctx, key))

	// Seed live counters; Resolve must hydrate them.
	now := time.Now().UTC()
	_, err := st.Increment(ctx, store.UsageDayKey("key-1", now), time.Hour)
	require.NoError(t, err)
	_, err = st.Increment(ctx, store.UsageMonthKey("key-1", now), time.Hour)
	require.NoError(t, err)

	got, err := reg.Resolve(ctx, "cda_pro_abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "key-1", got.ID)
	assert.Equal(t, config.TierPro, got.Tier)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.UsageToday)
	assert.Equal(t, 1, got.UsageMonth)
}

func TestRegistry_ResolveUnknownSecret(t *testing.T) {
	reg, _ := setupRegistry(t)

	_, err := reg.Resolve(context.Background(), "cda_free_nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegistry_ResolveEmptySecret(t *testing.T) {
	reg, _ := setupRegistry(t)

	_, err := reg.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegistry_ResolveRecordWithoutID(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()

	// A record that lost its identifier must not authenticate.
	require.NoError(t, st.SetJSON(ctx, store.APIKeyKey("broken"), &ApiKey{Secret: "broken"}, 0))

	_, err := reg.Resolve(ctx, "broken")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegistry_GetByID(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-2", "cda_pro_xyz")))

	got, err := reg.GetByID(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "cda_pro_xyz", got.Secret)

	_, err = reg.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRegistry_DowngradeToFree(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-3", "cda_pro_exp")))

	ok, err := reg.DowngradeToFree(ctx, "key-3")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := reg.GetByID(ctx, "key-3")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, got.Tier)
	assert.Nil(t, got.SubscriptionExpiresAt)
	assert.True(t, got.Active, "downgrade must not revoke the key")

	// Both lookup paths must see the downgrade.
	bySecret, err := reg.Resolve(ctx, "cda_pro_exp")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, bySecret.Tier)
}

func TestRegistry_DowngradeIsIdempotent(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-4", "cda_pro_twice")))

	for i := 0; i < 2; i++ {
		ok, err := reg.DowngradeToFree(ctx, "key-4")
		require.NoError(t, err, "run %d", i+1)
		assert.True(t, ok, "run %d", i+1)
	}

	got, err := reg.GetByID(ctx, "key-4")
	require.NoError(t, err)
	assert.Equal(t, config.TierFree, got.Tier)
	assert.Nil(t, got.SubscriptionExpiresAt)
}

func TestRegistry_TouchNeverResurrectsDowngrade(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	// Touch races request bookkeeping against the expiry sweep: it must
	// never write tier or subscription state back, whatever the
	// interleaving.
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("key-race-%d", i)
		expired := time.Now().UTC().Add(-time.Hour)
		key := proKey(id, "secret-"+id)
		key.SubscriptionExpiresAt = &expired
		require.NoError(t, reg.Put(ctx, key))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Touch(ctx, id, time.Now().UTC())
		}()
		go func() {
			defer wg.Done()
			_, err := reg.DowngradeToFree(ctx, id)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := reg.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, config.TierFree, got.Tier, "iteration %d", i)
		assert.Nil(t, got.SubscriptionExpiresAt, "iteration %d", i)
	}
}

func TestRegistry_TouchOverlaysLastUsed(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-t", "cda_pro_touch")))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, reg.Touch(ctx, "key-t", at))

	got, err := reg.GetByID(ctx, "key-t")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, at, got.LastUsedAt.UTC())

	bySecret, err := reg.Resolve(ctx, "cda_pro_touch")
	require.NoError(t, err)
	require.NotNil(t, bySecret.LastUsedAt)
}

func TestRegistry_ListAll(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-a", "secret-a")))
	require.NoError(t, reg.Put(ctx, proKey("key-b", "secret-b")))

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := []string{all[0].ID, all[1].ID}
	assert.ElementsMatch(t, []string{"key-a", "key-b"}, ids)
}

func TestRegistry_ListAllSkipsUnreadableRecords(t *testing.T) {
	reg, st := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Put(ctx, proKey("key-good", "secret-good")))
	// Write garbage under the index namespace.
	require.NoError(t, st.SetJSON(ctx, store.APIKeyIDKey("key-bad"), "not a key record", 0))

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "key-good", all[0].ID)
}

func TestApiKey_MaskedSecret(t *testing.T) {
	k := &ApiKey{Secret: "cda_free_abcdef123456"}
	assert.Equal(t, "cda_free_abc...", k.MaskedSecret())

	short := &ApiKey{Secret: "tiny"}
	assert.Equal(t, "tiny", short.MaskedSecret())
}

func TestApiKey_SubscriptionExpired(t *testing.T) {
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&ApiKey{SubscriptionExpiresAt: &past}).SubscriptionExpired(now))
	assert.False(t, (&ApiKey{SubscriptionExpiresAt: &future}).SubscriptionExpired(now))
	assert.False(t, (&ApiKey{}).SubscriptionExpired(now), "nil expiry never expires")
}
