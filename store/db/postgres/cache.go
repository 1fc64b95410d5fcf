package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/agentrium/recall/store"
)

// UpsertCacheEntry inserts or overwrites a cache entry.
func (d *DB) UpsertCacheEntry(ctx context.Context, entry *store.CacheEntry) error {
	stmt := `INSERT INTO cache (agent_id, key, value, created_ts, expires_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (agent_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			created_ts = EXCLUDED.created_ts,
			expires_ts = EXCLUDED.expires_ts`
	_, err := d.db.ExecContext(ctx, stmt,
		entry.AgentID,
		entry.Key,
		entry.Value,
		entry.CreatedTs,
		entry.ExpiresTs,
	)
	return errors.Wrap(classifyError(err), "failed to upsert cache entry")
}

// GetCacheEntry retrieves a cache entry. Returns nil when absent. Expiry is
// the store layer's concern; rows are returned as stored.
func (d *DB) GetCacheEntry(ctx context.Context, agentID, key string) (*store.CacheEntry, error) {
	query := `SELECT agent_id, key, value, created_ts, expires_ts FROM cache WHERE agent_id = $1 AND key = $2`

	var entry store.CacheEntry
	err := d.db.QueryRowContext(ctx, query, agentID, key).Scan(
		&entry.AgentID,
		&entry.Key,
		&entry.Value,
		&entry.CreatedTs,
		&entry.ExpiresTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(classifyError(err), "failed to get cache entry")
	}
	return &entry, nil
}

// DeleteCacheEntry removes one cache entry.
func (d *DB) DeleteCacheEntry(ctx context.Context, agentID, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM cache WHERE agent_id = $1 AND key = $2`, agentID, key)
	return errors.Wrap(classifyError(err), "failed to delete cache entry")
}

// PurgeExpiredCacheEntries physically removes entries past their expiry.
func (d *DB) PurgeExpiredCacheEntries(ctx context.Context, now int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_ts <= $1`, now)
	if err != nil {
		return 0, errors.Wrap(classifyError(err), "failed to purge expired cache entries")
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
