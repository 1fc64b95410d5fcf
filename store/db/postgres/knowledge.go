package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/agentrium/recall/store"
)

// CreateKnowledge inserts a knowledge record with insert-if-absent semantics.
// Returns false when the identifier already existed (nothing mutated).
func (d *DB) CreateKnowledge(ctx context.Context, create *store.KnowledgeRecord) (bool, error) {
	content, err := json.Marshal(create.Content)
	if err != nil {
		return false, errors.Wrap(err, "failed to serialize knowledge content")
	}

	stmt := `INSERT INTO knowledge (id, agent_id, content, is_shared, embedding, created_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (id) DO NOTHING`
	result, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		nullableAgent(create.AgentID),
		string(content),
		create.Shared(),
		d.embeddingValue(create.Embedding),
		create.CreatedTs,
	)
	if err != nil {
		return false, errors.Wrap(classifyError(err), "failed to insert knowledge")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read insert result")
	}
	return rows > 0, nil
}

// GetKnowledge retrieves a knowledge record by ID. Returns nil when absent.
func (d *DB) GetKnowledge(ctx context.Context, id string) (*store.KnowledgeRecord, error) {
	query := `SELECT id, agent_id, content, ` + d.embeddingExpr() + `, created_ts FROM knowledge WHERE id = $1`
	record, err := d.scanKnowledge(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return record, nil
}

// ListKnowledge lists knowledge records matching the filter. An AgentID
// filter matches owned records plus shared ones. Records whose content fails
// to deserialize are skipped.
func (d *DB) ListKnowledge(ctx context.Context, find *store.FindKnowledge) ([]*store.KnowledgeRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		args = append(args, *find.ID)
		where = append(where, "id = "+placeholder(len(args)))
	}
	if find.AgentID != nil {
		args = append(args, *find.AgentID)
		where = append(where, "(agent_id = "+placeholder(len(args))+" OR agent_id IS NULL OR is_shared = TRUE)")
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}

	query := `SELECT id, agent_id, content, ` + d.embeddingExpr() + `, created_ts
		FROM knowledge
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
		if find.Offset > 0 {
			args = append(args, find.Offset)
			query += " OFFSET " + placeholder(len(args))
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(classifyError(err), "failed to list knowledge")
	}
	defer rows.Close()

	list := []*store.KnowledgeRecord{}
	for rows.Next() {
		record, err := d.scanKnowledge(rows)
		if err != nil {
			if errors.Is(err, store.ErrMalformedContent) {
				slog.Warn("skipping knowledge with malformed content", "error", err)
				continue
			}
			return nil, err
		}
		list = append(list, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

// DeleteKnowledge deletes a knowledge record by ID.
func (d *DB) DeleteKnowledge(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM knowledge WHERE id = $1`, id)
	return errors.Wrap(classifyError(err), "failed to delete knowledge")
}

// DeleteKnowledgeByAgent bulk-deletes an agent's knowledge records,
// optionally including shared ones.
func (d *DB) DeleteKnowledgeByAgent(ctx context.Context, agentID string, includeShared bool) error {
	stmt := `DELETE FROM knowledge WHERE agent_id = $1`
	if includeShared {
		stmt = `DELETE FROM knowledge WHERE agent_id = $1 OR agent_id IS NULL OR is_shared = TRUE`
	}
	_, err := d.db.ExecContext(ctx, stmt, agentID)
	return errors.Wrap(classifyError(err), "failed to delete knowledge by agent")
}

// VectorSearchKnowledge ranks knowledge by cosine distance against the query
// vector using the pgvector operator. Visibility follows ListKnowledge: an
// agent sees its own records plus shared ones.
func (d *DB) VectorSearchKnowledge(ctx context.Context, opts *store.KnowledgeVectorSearchOptions) ([]*store.KnowledgeWithScore, error) {
	if !d.vectorOK {
		return nil, errors.Wrap(store.ErrIndexUnavailable, "pgvector extension not enabled")
	}

	query := `SELECT id, agent_id, content, embedding::text, created_ts,
			1 - (embedding <=> $1) AS similarity
		FROM knowledge
		WHERE embedding IS NOT NULL AND (agent_id = $2 OR agent_id IS NULL OR is_shared = TRUE)
		ORDER BY embedding <=> $1
		LIMIT $3`

	rows, err := d.db.QueryContext(ctx, query, pgvector.NewVector(opts.Embedding), opts.AgentID, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(classifyError(err), "failed to vector-search knowledge")
	}
	defer rows.Close()

	list := []*store.KnowledgeWithScore{}
	for rows.Next() {
		var record store.KnowledgeRecord
		var agentID sql.NullString
		var content string
		var similarity float64
		embDest, decode := d.embeddingDest()
		if err := rows.Scan(
			&record.ID,
			&agentID,
			&content,
			embDest,
			&record.CreatedTs,
			&similarity,
		); err != nil {
			return nil, classifyError(err)
		}
		record.AgentID = agentID.String
		if err := json.Unmarshal([]byte(content), &record.Content); err != nil {
			slog.Warn("skipping knowledge with malformed content", "id", record.ID, "error", err)
			continue
		}
		if record.Embedding, err = decode(); err != nil {
			slog.Warn("skipping knowledge with malformed embedding", "id", record.ID, "error", err)
			continue
		}
		list = append(list, &store.KnowledgeWithScore{Knowledge: &record, Similarity: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

// nullableAgent maps an empty agent ID (shared record) to NULL.
func nullableAgent(agentID string) any {
	if agentID == "" {
		return nil
	}
	return agentID
}

// scanKnowledge scans one knowledge row. Content deserialization failures
// are reported as ErrMalformedContent so callers can skip the record.
func (d *DB) scanKnowledge(row interface{ Scan(dest ...any) error }) (*store.KnowledgeRecord, error) {
	var record store.KnowledgeRecord
	var agentID sql.NullString
	var content string
	embDest, decode := d.embeddingDest()

	if err := row.Scan(
		&record.ID,
		&agentID,
		&content,
		embDest,
		&record.CreatedTs,
	); err != nil {
		return nil, err
	}
	record.AgentID = agentID.String

	if err := json.Unmarshal([]byte(content), &record.Content); err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "knowledge %s: %v", record.ID, err)
	}
	vec, err := decode()
	if err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "knowledge %s: %v", record.ID, err)
	}
	record.Embedding = vec
	return &record, nil
}
