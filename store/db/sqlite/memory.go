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

// CreateMemory inserts a memory record.
func (d *DB) CreateMemory(ctx context.Context, create *store.MemoryRecord) error {
	content, err := json.Marshal(create.Content)
	if err != nil {
		return errors.Wrap(err, "failed to serialize memory content")
	}

	stmt := `INSERT INTO memory (id, table_name, agent_id, room_id, user_id, content, embedding, is_unique, status, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		create.ID,
		create.Table,
		create.AgentID,
		create.RoomID,
		create.UserID,
		string(content),
		float32ArrayToBLOB(create.Embedding),
		create.Unique,
		create.Status,
		create.CreatedTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert memory")
	}
	return nil
}

// GetMemory retrieves a memory record by ID. Returns nil when absent.
func (d *DB) GetMemory(ctx context.Context, id string) (*store.MemoryRecord, error) {
	query := `SELECT id, table_name, agent_id, room_id, user_id, content, embedding, is_unique, status, created_ts
		FROM memory WHERE id = ?`
	memory, err := scanMemory(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return memory, nil
}

// ListMemories lists memory records matching the filter, most recent first.
// Records whose content fails to deserialize are skipped.
func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.MemoryRecord, error) {
	where, args := memoryWhere(find)

	query := `SELECT id, table_name, agent_id, room_id, user_id, content, embedding, is_unique, status, created_ts
		FROM memory
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
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.MemoryRecord{}
	for rows.Next() {
		memory, err := scanMemory(rows)
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
		return nil, err
	}
	return list, nil
}

// CountMemories counts memory records matching the filter.
func (d *DB) CountMemories(ctx context.Context, find *store.FindMemory) (int64, error) {
	where, args := memoryWhere(find)
	query := `SELECT COUNT(*) FROM memory WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count memories")
	}
	return count, nil
}

// UpdateMemoryStatus updates the status field of a memory record.
func (d *DB) UpdateMemoryStatus(ctx context.Context, id, status string) error {
	result, err := d.db.ExecContext(ctx, `UPDATE memory SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return errors.Wrap(err, "failed to update memory status")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("memory %s not found", id)
	}
	return nil
}

// DeleteMemory deletes a memory record by ID.
func (d *DB) DeleteMemory(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete memory")
}

// DeleteMemories bulk-deletes memory records matching the filter.
func (d *DB) DeleteMemories(ctx context.Context, find *store.FindMemory) error {
	where, args := memoryWhere(find)
	_, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE `+strings.Join(where, " AND "), args...)
	return errors.Wrap(err, "failed to delete memories")
}

// memoryWhere builds the filter predicate shared by list, count, and delete.
func memoryWhere(find *store.FindMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Table != nil {
		where, args = append(where, "table_name = ?"), append(args, *find.Table)
	}
	if find.AgentID != nil {
		where, args = append(where, "agent_id = ?"), append(args, *find.AgentID)
	}
	if find.RoomID != nil {
		where, args = append(where, "room_id = ?"), append(args, *find.RoomID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}
	if find.UniqueOnly {
		where = append(where, "is_unique = 1")
	}
	if find.WithEmbedding {
		where = append(where, "embedding IS NOT NULL")
	}
	return where, args
}

// scanMemory scans one memory row. Content deserialization failures are
// reported as ErrMalformedContent so callers can skip the record.
func scanMemory(row interface{ Scan(dest ...any) error }) (*store.MemoryRecord, error) {
	var memory store.MemoryRecord
	var content string
	var embedding []byte

	if err := row.Scan(
		&memory.ID,
		&memory.Table,
		&memory.AgentID,
		&memory.RoomID,
		&memory.UserID,
		&content,
		&embedding,
		&memory.Unique,
		&memory.Status,
		&memory.CreatedTs,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &memory.Content); err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "memory %s: %v", memory.ID, err)
	}
	vec, err := blobToFloat32Array(embedding)
	if err != nil {
		return nil, errors.Wrapf(store.ErrMalformedContent, "memory %s: %v", memory.ID, err)
	}
	memory.Embedding = vec
	return &memory, nil
}
