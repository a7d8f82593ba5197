package keys

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/victormendozamx/crypto-data-aggregator/internal/config"
	"github.com/victormendozamx/crypto-data-aggregator/internal/store"
)

// ErrKeyNotFound is returned when no key matches the given credential
// or ID.
var ErrKeyNotFound = errors.New("keys: not found")

// Registry resolves and mutates API key records. It holds no cache:
// every authorization check re-reads the store so a downgraded or
// revoked key takes effect immediately.
type Registry struct {
	store *store.Store
}

func NewRegistry(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Resolve looks up the key record for a presented secret and hydrates
// its usage counters. Returns ErrKeyNotFound when no record exists or
// the record lacks an ID.
func (r *Registry) Resolve(ctx context.Context, secret string) (*ApiKey, error) {
	if secret == "" {
		return nil, ErrKeyNotFound
	}

	var key ApiKey
	err := r.store.GetJSON(ctx, store.APIKeyKey(secret), &key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving key: %w", err)
	}
	if key.ID == "" {
		return nil, ErrKeyNotFound
	}

	// The record is addressed by its secret, but compare anyway so a
	// stored secret that drifted from its key never authenticates.
	if subtle.ConstantTimeCompare([]byte(key.Secret), []byte(secret)) != 1 {
		return nil, ErrKeyNotFound
	}

	r.hydrateUsage(ctx, &key)
	return &key, nil
}

// GetByID returns the full key record via the reverse index.
func (r *Registry) GetByID(ctx context.Context, id string) (*ApiKey, error) {
	if id == "" {
		return nil, ErrKeyNotFound
	}

	var key ApiKey
	err := r.store.GetJSON(ctx, store.APIKeyIDKey(id), &key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", id, err)
	}
	if key.ID == "" {
		return nil, ErrKeyNotFound
	}

	r.hydrateUsage(ctx, &key)
	return &key, nil
}

// DowngradeToFree sets the key's tier to free and clears its
// subscription expiry, rewriting both the secret record and the ID
// index. Downgrading an already-free key is a no-op success.
func (r *Registry) DowngradeToFree(ctx context.Context, id string) (bool, error) {
	key, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if key.Tier == config.TierFree && key.SubscriptionExpiresAt == nil {
		return true, nil
	}

	key.Tier = config.TierFree
	key.SubscriptionExpiresAt = nil

	if err := r.put(ctx, key); err != nil {
		return false, fmt.Errorf("downgrading key %s: %w", id, err)
	}

	slog.Info("downgraded key to free tier", "key_id", id)
	return true, nil
}

// Touch stamps the key's last-used time. The timestamp lives in its
// own store key, overlaid at read time like the usage counters, so
// request bookkeeping never rewrites the record and cannot clobber a
// concurrent downgrade. Best-effort: failures are the caller's to log
// and swallow.
func (r *Registry) Touch(ctx context.Context, id string, at time.Time) error {
	return r.store.SetJSON(ctx, store.LastUsedKey(id), at.UTC(), 0)
}

// ListAll scans the ID index and returns every readable key record.
// Best-effort: a mid-scan failure or an unreadable record drops that
// entry rather than aborting, so reporting sees whatever was collected.
// Never use this for authorization decisions.
func (r *Registry) ListAll(ctx context.Context) ([]*ApiKey, error) {
	ids, scanErr := r.store.Scan(ctx, store.APIKeyIDPattern())
	if scanErr != nil {
		slog.Warn("key scan incomplete, continuing with partial results",
			"error", scanErr, "collected", len(ids))
	}

	out := make([]*ApiKey, 0, len(ids))
	for _, indexKey := range ids {
		id := strings.TrimPrefix(indexKey, store.APIKeyIDKey(""))
		key, err := r.GetByID(ctx, id)
		if err != nil {
			slog.Warn("skipping unreadable key record", "key_id", id, "error", err)
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// Put stores a key record under both its secret and its ID index.
// Exposed for provisioning tooling and tests; the gate never creates keys.
func (r *Registry) Put(ctx context.Context, key *ApiKey) error {
	if key.ID == "" || key.Secret == "" {
		return errors.New("keys: record needs both id and secret")
	}
	return r.put(ctx, key)
}

func (r *Registry) put(ctx context.Context, key *ApiKey) error {
	if err := r.store.SetJSON(ctx, store.APIKeyKey(key.Secret), key, 0); err != nil {
		return err
	}
	return r.store.SetJSON(ctx, store.APIKeyIDKey(key.ID), key, 0)
}

// hydrateUsage overlays the live date-keyed counters and the last-used
// stamp onto the record. Reads are best-effort; a store hiccup leaves
// them at their zero values rather than failing the resolve.
func (r *Registry) hydrateUsage(ctx context.Context, key *ApiKey) {
	now := time.Now().UTC()
	if today, err := r.store.GetInt(ctx, store.UsageDayKey(key.ID, now)); err == nil {
		key.UsageToday = int(today)
	} else {
		slog.Warn("reading daily usage failed", "key_id", key.ID, "error", err)
	}
	if month, err := r.store.GetInt(ctx, store.UsageMonthKey(key.ID, now)); err == nil {
		key.UsageMonth = int(month)
	} else {
		slog.Warn("reading monthly usage failed", "key_id", key.ID, "error", err)
	}

	var lastUsed time.Time
	switch err := r.store.GetJSON(ctx, store.LastUsedKey(key.ID), &lastUsed); {
	case err == nil:
		key.LastUsedAt = &lastUsed
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("reading last-used failed", "key_id", key.ID, "error", err)
	}
}
