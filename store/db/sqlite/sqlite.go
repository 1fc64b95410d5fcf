package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/agentrium/recall/internal/profile"
	"github.com/agentrium/recall/store"
)

// DB is the SQLite driver. SQLite has no native vector index, so this
// backend always reports the vector capability as absent and every
// similarity search runs through the application-side cosine fallback.
// Embeddings are stored as little-endian float32 BLOBs.
type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode prevents locking issues; foreign keys stay disabled to
	// be explicit about the engine default. With the modernc.org/sqlite
	// driver each pragma is prefixed with `_pragma=`.
	sqliteDB, err := sql.Open("sqlite", p.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: p}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const latestSchema = `
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	room_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding BLOB,
	is_unique INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory (table_name, room_id, agent_id);

CREATE TABLE IF NOT EXISTS knowledge (
	id TEXT PRIMARY KEY,
	agent_id TEXT,
	content TEXT NOT NULL,
	is_shared INTEGER NOT NULL DEFAULT 0,
	embedding BLOB,
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge (agent_id);

CREATE TABLE IF NOT EXISTS cache (
	agent_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL,
	PRIMARY KEY (agent_id, key)
);
`

// Migrate creates the schema if absent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// SupportsVectorSearch reports the native vector capability. Always false
// for SQLite.
func (d *DB) SupportsVectorSearch() bool {
	return false
}

// CreateVectorIndex is unreachable through the capability manager (the
// capability is never announced) and fails explicitly if called directly.
func (d *DB) CreateVectorIndex(ctx context.Context, dimension int) error {
	return errors.Wrap(store.ErrIndexUnavailable, "native vector index not supported in SQLite")
}

// CreateFallbackIndex creates plain secondary indexes on the embedding
// columns for the bounded fallback scans.
func (d *DB) CreateFallbackIndex(ctx context.Context) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_memory_embedding ON memory (embedding)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_embedding ON knowledge (embedding)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create fallback index")
		}
	}
	return nil
}

// EmbeddingTableSharded reports horizontal partitioning. SQLite databases
// are single files; never sharded.
func (d *DB) EmbeddingTableSharded(ctx context.Context) (bool, error) {
	return false, nil
}

// VectorSearchMemories is not available in SQLite.
func (d *DB) VectorSearchMemories(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	return nil, errors.Wrap(store.ErrIndexUnavailable, "native vector search not supported in SQLite")
}

// VectorSearchKnowledge is not available in SQLite.
func (d *DB) VectorSearchKnowledge(ctx context.Context, opts *store.KnowledgeVectorSearchOptions) ([]*store.KnowledgeWithScore, error) {
	return nil, errors.Wrap(store.ErrIndexUnavailable, "native vector search not supported in SQLite")
}
