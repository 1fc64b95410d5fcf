package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"

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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	result, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		nullableAgent(create.AgentID),
		string(content),
		create.Shared(),
		float32ArrayToBLOB(create.Embedding),
		create.CreatedTs,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert knowledge")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read insert result")
	}
	return rows > 0, nil
}

// GetKnowledge retrieves a knowledge record by ID. Returns nil when absent.
func (d *DB) GetKnowledge(ctx context.Context, id string) (*store.KnowledgeRecord, error) {
	query := `SELECT id, agent_id, content, embedding, created_ts FROM knowledge WHERE id = ?`
	record, err := scanKnowledge(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// ListKnowledge lists knowledge records matching the filter. An AgentID
// filter matches owned records plus shared ones. Records whose content fails
// to deserialize are skipped.
func (d *DB) ListKnowledge(ctx context.Context, find *store.FindKnowledge) ([]*store.KnowledgeRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.AgentID != nil {
		where, args = append(where, "(agent_id = ? OR agent_id IS NULL OR is_shared = 1)"), append(args, *find.AgentID)
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}

	query := `SELECT id, agent_id, content, embedding, created_ts
		FROM knowledge
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list knowledge")
	}
	defer rows.Close()

	list := []*store.KnowledgeRecord{}
	for rows.Next() {
		record, err := scanKnowledge(rows)
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
		return nil, err
	}
	return list, nil
}

// DeleteKnowledge deletes a knowledge record by ID.
func (d *DB) DeleteKnowledge(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM knowledge WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete knowledge")
}

// DeleteKnowledgeByAgent bulk-deletes an agent's knowledge records,
// optionally including shared ones.
func (d *DB) DeleteKnowledgeByAgent(ctx context.Context, agentID string, includeShared bool) error {
	stmt := `DELETE FROM knowledge WHERE agent_id = ?`
	if includeShared {
		stmt = `DELETE FROM knowledge WHERE agent_id = ? OR agent_id IS NULL OR is_shared = 1`
	}
	_, err := d.db.ExecContext(ctx, stmt, agentID)
	return errors.Wrap(err, "failed to delete knowledge by agent")
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
func scanKnowledge(row interface{ Scan(dest ...any) error }) (*store.KnowledgeRecord, error) {
	var record store.KnowledgeRecord
	var agentID sql.NullString
	var content string
	var embedding []byte

	if err := row.Scan(
		&record.ID,
		&agentID,
		&content,
		&embedding,
		&record.CreatedTs,
	); err != nil {
		return nil, err
	}
	record.AgentID = agentID.String

	if err := json.Unmarshal([]byte(content), &record.Content); err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "knowledge %s: %v", record.ID, err)
	}
	vec, err := blobToFloat32Array(embedding)
	if err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "knowledge %s: %v", record.ID, err)
	}
	record.Embedding = vec
	return &record, nil
}
