package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// KnowledgeRecord represents an ingested knowledge item. A record without an
// owning agent (or explicitly marked shared) is visible to all agents.
type KnowledgeRecord struct {
	ID        string
	AgentID   string // empty means shared across agents
	Content   KnowledgeContent
	Embedding []float32
	CreatedTs int64
}

// KnowledgeContent is the serialized payload of a knowledge record.
type KnowledgeContent struct {
	Text     string            `json:"text"`
	Metadata KnowledgeMetadata `json:"metadata,omitempty"`
}

// KnowledgeMetadata carries chunking provenance for ingested documents.
type KnowledgeMetadata struct {
	IsMain     bool   `json:"isMain,omitempty"`
	IsChunk    bool   `json:"isChunk,omitempty"`
	IsShared   bool   `json:"isShared,omitempty"`
	OriginalID string `json:"originalId,omitempty"`
	ChunkIndex int    `json:"chunkIndex,omitempty"`
}

// KnowledgeWithScore is a ranked knowledge search result. Similarity holds
// the combined vector x keyword score assigned by SearchKnowledge.
type KnowledgeWithScore struct {
	Knowledge  *KnowledgeRecord `json:"knowledge"`
	Similarity float32          `json:"similarity"`
}

// FindKnowledge is the filter condition for knowledge queries.
type FindKnowledge struct {
	ID            *string
	AgentID       *string // matches owned records plus shared ones
	WithEmbedding bool
	Limit         int
	Offset        int
}

// Shared reports whether the record is visible to all agents.
func (k *KnowledgeRecord) Shared() bool {
	return k.AgentID == "" || k.Content.Metadata.IsShared
}

// Validate validates the knowledge record before insert and applies defaults.
func (k *KnowledgeRecord) Validate() error {
	if k.Content.Text == "" {
		return errors.New("content text cannot be empty")
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedTs == 0 {
		k.CreatedTs = time.Now().Unix()
	}
	return nil
}

// CreateKnowledge persists a knowledge record with insert-if-absent
// semantics. Re-inserting an existing shared record is a silent no-op;
// re-inserting an existing non-shared record surfaces ErrDuplicateKnowledge.
func (s *Store) CreateKnowledge(ctx context.Context, create *KnowledgeRecord) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	if err := create.Validate(); err != nil {
		return errors.Wrap(err, "invalid knowledge record")
	}

	created, err := s.driver.CreateKnowledge(ctx, create)
	if err != nil {
		return errors.Wrap(err, "failed to create knowledge")
	}
	if !created {
		if create.Shared() {
			// Concurrent ingestion of shared content is expected; absorb it.
			return nil
		}
		return errors.Wrapf(ErrDuplicateKnowledge, "id %s", create.ID)
	}
	return nil
}

// GetKnowledge retrieves a knowledge record by ID, consulting the in-process
// cache first. Returns nil when the record does not exist.
func (s *Store) GetKnowledge(ctx context.Context, id string) (*KnowledgeRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if cached, ok := s.knowledgeCache.Get(id); ok {
		return cached, nil
	}
	record, err := s.driver.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	if record != nil {
		s.knowledgeCache.Set(id, record, 0)
	}
	return record, nil
}

// ListKnowledge lists knowledge records matching the filter.
func (s *Store) ListKnowledge(ctx context.Context, find *FindKnowledge) ([]*KnowledgeRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.driver.ListKnowledge(ctx, find)
}

// RemoveKnowledge deletes a single knowledge record.
func (s *Store) RemoveKnowledge(ctx context.Context, id string) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	s.knowledgeCache.Delete(id)
	return s.driver.DeleteKnowledge(ctx, id)
}

// RemoveAllKnowledge bulk-deletes an agent's knowledge records, optionally
// including shared ones.
func (s *Store) RemoveAllKnowledge(ctx context.Context, agentID string, includeShared bool) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	s.knowledgeCache.Purge()
	return s.driver.DeleteKnowledgeByAgent(ctx, agentID, includeShared)
}
