package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DedupThreshold is the cosine similarity above which a new memory is
// considered a near-duplicate of an existing one in the same scope.
const DedupThreshold = 0.95

// MemoryRecord represents a unit of agent memory: arbitrary structured
// content scoped to a room and agent, optionally carrying an embedding
// vector for similarity search.
type MemoryRecord struct {
	ID        string
	AgentID   string
	RoomID    string
	UserID    string
	Table     string // logical record-type tag, e.g. "memories", "facts"
	Content   MemoryContent
	Embedding []float32 // optional; empty means not embedded
	Unique    bool      // false iff a near-duplicate existed at insert time
	Status    string    // the only field mutated after creation
	CreatedTs int64
}

// MemoryContent is the opaquely serialized payload of a memory record.
// Only Text is interpreted by this layer (fuzzy and keyword matching);
// everything else rides along in Metadata.
type MemoryContent struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryWithScore is a memory search result with its similarity score.
type MemoryWithScore struct {
	Memory *MemoryRecord
	Score  float32
}

// FindMemory is the filter condition for memory queries.
type FindMemory struct {
	ID            *string
	Table         *string
	AgentID       *string
	RoomID        *string
	UserID        *string
	Status        *string
	UniqueOnly    bool
	WithEmbedding bool // only records carrying an embedding
	Limit         int
	Offset        int
}

// Validate validates the memory record before insert and applies defaults.
func (m *MemoryRecord) Validate() error {
	if m.Table == "" {
		return errors.New("table cannot be empty")
	}
	if m.RoomID == "" {
		return errors.New("room id cannot be empty")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedTs == 0 {
		m.CreatedTs = time.Now().Unix()
	}
	return nil
}

// scopeKey identifies the dedup scope of a memory record. Writes within the
// same scope are serialized in-process so that the check-then-write dedup
// does not race against itself.
func (m *MemoryRecord) scopeKey() string {
	return m.Table + "\x00" + m.RoomID + "\x00" + m.AgentID
}

// CreateMemory persists a memory record. When the record carries an
// embedding, existing records in the same room/table/agent scope are searched
// first: a match at or above DedupThreshold marks the new record non-unique.
func (s *Store) CreateMemory(ctx context.Context, create *MemoryRecord) (*MemoryRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := create.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid memory record")
	}

	create.Unique = true
	if len(create.Embedding) > 0 {
		unlock := s.lockScope(create.scopeKey())
		defer unlock()

		matches, err := s.SearchMemories(ctx, &SearchMemoriesOptions{
			Embedding: create.Embedding,
			Table:     create.Table,
			AgentID:   &create.AgentID,
			RoomID:    &create.RoomID,
			Threshold: DedupThreshold,
			Count:     1,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to run dedup search")
		}
		create.Unique = len(matches) == 0

		if err := s.driver.CreateMemory(ctx, create); err != nil {
			return nil, errors.Wrap(err, "failed to create memory")
		}
		return create, nil
	}

	if err := s.driver.CreateMemory(ctx, create); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

// GetMemory retrieves a single memory record by ID. Returns nil when the
// record does not exist.
func (s *Store) GetMemory(ctx context.Context, id string) (*MemoryRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.driver.GetMemory(ctx, id)
}

// ListMemories lists memory records matching the filter, most recent first.
// Records with malformed content are skipped, not fatal.
func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*MemoryRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.driver.ListMemories(ctx, find)
}

// GetMemoriesByRoom lists up to limit memory records of one table within a room.
func (s *Store) GetMemoriesByRoom(ctx context.Context, roomID, table string, limit int) ([]*MemoryRecord, error) {
	return s.ListMemories(ctx, &FindMemory{
		RoomID: &roomID,
		Table:  &table,
		Limit:  limit,
	})
}

// CountMemories counts memory records matching the filter.
func (s *Store) CountMemories(ctx context.Context, find *FindMemory) (int64, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	return s.driver.CountMemories(ctx, find)
}

// UpdateMemoryStatus updates the status field of a memory record. Status is
// the only mutable field of a stored memory.
func (s *Store) UpdateMemoryStatus(ctx context.Context, id, status string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	return s.driver.UpdateMemoryStatus(ctx, id, status)
}

// RemoveMemory deletes a single memory record.
func (s *Store) RemoveMemory(ctx context.Context, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	return s.driver.DeleteMemory(ctx, id)
}

// RemoveAllMemories bulk-deletes every memory record of one table within a room.
func (s *Store) RemoveAllMemories(ctx context.Context, roomID, table string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	return s.driver.DeleteMemories(ctx, &FindMemory{
		RoomID: &roomID,
		Table:  &table,
	})
}
