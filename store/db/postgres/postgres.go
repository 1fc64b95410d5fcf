package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/profile"
	"github.com/agentrium/recall/store"
)

// DB is the PostgreSQL driver. When the pgvector extension is available,
// embeddings live in a vector(dim) column and nearest-neighbor queries run
// natively; otherwise embeddings are stored as real[] and the store layer's
// cosine fallback does the ranking.
type DB struct {
	db      *sql.DB
	profile *profile.Profile

	// vectorOK is decided once during Migrate and read-only afterwards.
	vectorOK bool
}

// NewDB opens a PostgreSQL database with the profile DSN.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", p.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &DB{db: db, profile: p}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate enables pgvector when possible and creates the schema. The
// embedding column type follows the extension: vector(dim) with pgvector,
// real[] without.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		slog.Warn("pgvector extension unavailable, storing embeddings as float arrays", "error", err)
		d.vectorOK = false
	} else {
		d.vectorOK = true
	}

	embeddingType := "real[]"
	if d.vectorOK {
		embeddingType = fmt.Sprintf("vector(%d)", d.profile.EmbeddingDim)
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memory (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	room_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	content JSONB NOT NULL,
	embedding %s,
	is_unique BOOLEAN NOT NULL DEFAULT TRUE,
	status TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory (table_name, room_id, agent_id);

CREATE TABLE IF NOT EXISTS knowledge (
	id TEXT PRIMARY KEY,
	agent_id TEXT,
	content JSONB NOT NULL,
	is_shared BOOLEAN NOT NULL DEFAULT FALSE,
	embedding %s,
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_agent ON knowledge (agent_id);

CREATE TABLE IF NOT EXISTS cache (
	agent_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	created_ts BIGINT NOT NULL,
	expires_ts BIGINT NOT NULL,
	PRIMARY KEY (agent_id, key)
);
`, embeddingType, embeddingType)

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(classifyError(err), "failed to apply schema")
	}
	return nil
}

// SupportsVectorSearch reports whether the pgvector extension was enabled
// during migration.
func (d *DB) SupportsVectorSearch() bool {
	return d.vectorOK
}

// CreateVectorIndex builds HNSW cosine indexes over the embedding columns.
func (d *DB) CreateVectorIndex(ctx context.Context, dimension int) error {
	if !d.vectorOK {
		return errors.Wrap(store.ErrIndexUnavailable, "pgvector extension not enabled")
	}
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_memory_embedding_hnsw ON memory USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_embedding_hnsw ON knowledge USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(store.ErrIndexUnavailable, "failed to create vector index: %v", err)
		}
	}
	return nil
}

// CreateFallbackIndex creates the plain secondary indexes serving the
// bounded candidate scans. Postgres cannot btree a vector column, so the
// fallback indexes the scope predicates the scan filters on.
func (d *DB) CreateFallbackIndex(ctx context.Context) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_memory_scope_ts ON memory (table_name, room_id, agent_id, created_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_agent_ts ON knowledge (agent_id, created_ts)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(classifyError(err), "failed to create fallback index")
		}
	}
	return nil
}

// EmbeddingTableSharded reports whether the memory table is declaratively
// partitioned, which is incompatible with the HNSW index strategy used here.
func (d *DB) EmbeddingTableSharded(ctx context.Context) (bool, error) {
	var relkind string
	err := d.db.QueryRowContext(ctx, `SELECT relkind FROM pg_class WHERE relname = 'memory'`).Scan(&relkind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(classifyError(err), "failed to inspect table partitioning")
	}
	return relkind == "p", nil
}

// placeholder returns the n-th positional parameter, 1-based.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}

// classifyError maps backend failures onto the store taxonomy so callers can
// react with errors.Is.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case strings.HasPrefix(string(pqErr.Code), "08"): // connection exception
			return errors.Wrapf(store.ErrConnection, "%v", err)
		case pqErr.Code == "42704", pqErr.Code == "0A000", pqErr.Code == "42883": // missing operator/feature
			return errors.Wrapf(store.ErrIndexUnavailable, "%v", err)
		}
	}
	return err
}
