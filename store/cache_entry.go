package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// CacheEntry is a persisted cache record scoped to an agent. An entry is
// visible only while now < ExpiresTs; expired entries are logically absent
// regardless of when they are physically purged.
type CacheEntry struct {
	AgentID   string
	Key       string
	Value     []byte
	CreatedTs int64
	ExpiresTs int64
}

// GetCache retrieves a cache value. The boolean reports whether a live entry
// was found; expired entries are treated as absent and purged best-effort.
func (s *Store) GetCache(ctx context.Context, agentID, key string) ([]byte, bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, false, err
	}
	entry, err := s.driver.GetCacheEntry(ctx, agentID, key)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get cache entry")
	}
	if entry == nil {
		return nil, false, nil
	}
	if s.now().Unix() >= entry.ExpiresTs {
		// Physical deletion timing is free; visibility is what matters.
		_ = s.driver.DeleteCacheEntry(ctx, agentID, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// SetCache upserts a cache value with the given TTL. A non-positive TTL falls
// back to the profile default.
func (s *Store) SetCache(ctx context.Context, agentID, key string, value []byte, ttl time.Duration) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	if key == "" {
		return errors.New("cache key cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.searchCacheTTL
	}
	now := s.now()
	entry := &CacheEntry{
		AgentID:   agentID,
		Key:       key,
		Value:     value,
		CreatedTs: now.Unix(),
		ExpiresTs: now.Add(ttl).Unix(),
	}
	return errors.Wrap(s.driver.UpsertCacheEntry(ctx, entry), "failed to set cache entry")
}

// DeleteCache removes a cache entry explicitly.
func (s *Store) DeleteCache(ctx context.Context, agentID, key string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	return s.driver.DeleteCacheEntry(ctx, agentID, key)
}

// PurgeExpiredCache physically removes entries past their expiry. Intended
// for periodic maintenance; correctness never depends on it running.
func (s *Store) PurgeExpiredCache(ctx context.Context) (int64, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	return s.driver.PurgeExpiredCacheEntries(ctx, s.now().Unix())
}
