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

// CreateMemory inserts a memory record.
func (d *DB) CreateMemory(ctx context.Context, create *store.MemoryRecord) error {
	content, err := json.Marshal(create.Content)
	if err != nil {
		return errors.Wrap(err, "failed to serialize memory content")
	}

	stmt := `INSERT INTO memory (id, table_name, agent_id, room_id, user_id, content, embedding, is_unique, status, created_ts)
		VALUES (` + placeholders(10) + `)`
	_, err = d.db.ExecContext(ctx, stmt,
		create.ID,
		create.Table,
		create.AgentID,
		create.RoomID,
		create.UserID,
		string(content),
		d.embeddingValue(create.Embedding),
		create.Unique,
		create.Status,
		create.CreatedTs,
	)
	if err != nil {
		return errors.Wrap(classifyError(err), "failed to insert memory")
	}
	return nil
}

// GetMemory retrieves a memory record by ID. Returns nil when absent.
func (d *DB) GetMemory(ctx context.Context, id string) (*store.MemoryRecord, error) {
	query := `SELECT id, table_name, agent_id, room_id, user_id, content, ` + d.embeddingExpr() + `, is_unique, status, created_ts
		FROM memory WHERE id = $1`
	memory, err := d.scanMemory(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyError(err)
	}
	return memory, nil
}

// ListMemories lists memory records matching the filter, most recent first.
// Records whose content fails to deserialize are skipped.
func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.MemoryRecord, error) {
	where, args := memoryWhere(find)

	query := `SELECT id, table_name, agent_id, room_id, user_id, content, ` + d.embeddingExpr() + `, is_unique, status, created_ts
		FROM memory
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
		return nil, errors.Wrap(classifyError(err), "failed to list memories")
	}
	defer rows.Close()

	list := []*store.MemoryRecord{}
	for rows.Next() {
		memory, err := d.scanMemory(rows)
		if err != nil {
			if errors.Is(err, store.ErrMalformedContent) {
				slog.Warn("skipping memory with malformed content", "error", err)
				continue
			}
			return nil, err
		}
		list = append(list, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

// CountMemories counts memory records matching the filter.
func (d *DB) CountMemories(ctx context.Context, find *store.FindMemory) (int64, error) {
	where, args := memoryWhere(find)
	query := `SELECT COUNT(*) FROM memory WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(classifyError(err), "failed to count memories")
	}
	return count, nil
}

// UpdateMemoryStatus updates the status field of a memory record.
func (d *DB) UpdateMemoryStatus(ctx context.Context, id, status string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE memory SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return errors.Wrap(classifyError(err), "failed to update memory status")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("memory %s not found", id)
	}
	return nil
}

// DeleteMemory deletes a memory record by ID.
func (d *DB) DeleteMemory(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE id = $1`, id)
	return errors.Wrap(classifyError(err), "failed to delete memory")
}

// DeleteMemories bulk-deletes memory records matching the filter.
func (d *DB) DeleteMemories(ctx context.Context, find *store.FindMemory) error {
	where, args := memoryWhere(find)
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE `+strings.Join(where, " AND "), args...)
	return errors.Wrap(classifyError(err), "failed to delete memories")
}

// VectorSearchMemories ranks memories by cosine distance against the query
// vector using the pgvector operator. Requires the vector column type.
func (d *DB) VectorSearchMemories(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	if !d.vectorOK {
		return nil, errors.Wrap(store.ErrIndexUnavailable, "pgvector extension not enabled")
	}

	where := []string{"embedding IS NOT NULL", "table_name = $2"}
	args := []any{pgvector.NewVector(opts.Embedding), opts.Table}
	if opts.AgentID != nil {
		args = append(args, *opts.AgentID)
		where = append(where, "agent_id = "+placeholder(len(args)))
	}
	args = append(args, opts.Limit)

	query := `SELECT id, table_name, agent_id, room_id, user_id, content, embedding::text, is_unique, status, created_ts,
			1 - (embedding <=> $1) AS similarity
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> $1
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(classifyError(err), "failed to vector-search memories")
	}
	defer rows.Close()

	list := []*store.MemoryWithScore{}
	for rows.Next() {
		var memory store.MemoryRecord
		var content string
		var similarity float64
		embDest, decode := d.embeddingDest()
		if err := rows.Scan(
			&memory.ID,
			&memory.Table,
			&memory.AgentID,
			&memory.RoomID,
			&memory.UserID,
			&content,
			embDest,
			&memory.Unique,
			&memory.Status,
			&memory.CreatedTs,
			&similarity,
		); err != nil {
			return nil, classifyError(err)
		}
		if err := json.Unmarshal([]byte(content), &memory.Content); err != nil {
			slog.Warn("skipping memory with malformed content", "id", memory.ID, "error", err)
			continue
		}
		if memory.Embedding, err = decode(); err != nil {
			slog.Warn("skipping memory with malformed embedding", "id", memory.ID, "error", err)
			continue
		}
		list = append(list, &store.MemoryWithScore{Memory: &memory, Score: float32(similarity)})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return list, nil
}

// memoryWhere builds the filter predicate shared by list, count, and delete.
func memoryWhere(find *store.FindMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		args = append(args, *find.ID)
		where = append(where, "id = "+placeholder(len(args)))
	}
	if find.Table != nil {
		args = append(args, *find.Table)
		where = append(where, "table_name = "+placeholder(len(args)))
	}
	if find.AgentID != nil {
		args = append(args, *find.AgentID)
		where = append(where, "agent_id = "+placeholder(len(args)))
	}
	if find.RoomID != nil {
		args = append(args, *find.RoomID)
		where = append(where, "room_id = "+placeholder(len(args)))
	}
	if find.UserID != nil {
		args = append(args, *find.UserID)
		where = append(where, "user_id = "+placeholder(len(args)))
	}
	if find.Status != nil {
		args = append(args, *find.Status)
		where = append(where, "status = "+placeholder(len(args)))
	}
	if find.UniqueOnly {
		where = append(where, "is_unique = TRUE")
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}
	return where, args
}

// scanMemory scans one memory row. Content deserialization failures are
// reported as ErrMalformedContent so callers can skip the record.
func (d *DB) scanMemory(row interface{ Scan(dest ...any) error }) (*store.MemoryRecord, error) {
	var memory store.MemoryRecord
	var content string
	embDest, decode := d.embeddingDest()

	if err := row.Scan(
		&memory.ID,
		&memory.Table,
		&memory.AgentID,
		&memory.RoomID,
		&memory.UserID,
		&content,
		embDest,
		&memory.Unique,
		&memory.Status,
		&memory.CreatedTs,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &memory.Content); err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "memory %s: %v", memory.ID, err)
	}
	vec, err := decode()
	if err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "memory %s: %v", memory.ID, err)
	}
	memory.Embedding = vec
	return &memory, nil
}
