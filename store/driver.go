package store

import (
	"context"
	"database/sql"
)

// VectorSearchOptions describes a native nearest-neighbor query over memory
// records. Only the scope predicates the backend can evaluate natively are
// included; the search engine post-filters the rest.
type VectorSearchOptions struct {
	Embedding []float32
	Table     string
	AgentID   *string
	Limit     int
}

// KnowledgeVectorSearchOptions describes a native nearest-neighbor query over
// knowledge records visible to an agent (owned plus shared).
type KnowledgeVectorSearchOptions struct {
	Embedding []float32
	AgentID   string
	Limit     int
}

// Driver is the backing-store interface. Implementations provide document
// CRUD with filter predicates and secondary-index creation; native vector
// search is optional and announced through SupportsVectorSearch. The store
// layer functions fully when the vector capability is absent.
type Driver interface {
	GetDB() *sql.DB
	Migrate(ctx context.Context) error
	Close() error

	// Capability surface consulted by the capability manager during probing.
	SupportsVectorSearch() bool
	CreateVectorIndex(ctx context.Context, dimension int) error
	CreateFallbackIndex(ctx context.Context) error
	EmbeddingTableSharded(ctx context.Context) (bool, error)

	// Memory records.
	CreateMemory(ctx context.Context, create *MemoryRecord) error
	GetMemory(ctx context.Context, id string) (*MemoryRecord, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*MemoryRecord, error)
	CountMemories(ctx context.Context, find *FindMemory) (int64, error)
	UpdateMemoryStatus(ctx context.Context, id, status string) error
	DeleteMemory(ctx context.Context, id string) error
	DeleteMemories(ctx context.Context, find *FindMemory) error
	VectorSearchMemories(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error)

	// Knowledge records. CreateKnowledge reports whether a row was inserted;
	// false means the identifier already existed and nothing was mutated.
	CreateKnowledge(ctx context.Context, create *KnowledgeRecord) (bool, error)
	GetKnowledge(ctx context.Context, id string) (*KnowledgeRecord, error)
	ListKnowledge(ctx context.Context, find *FindKnowledge) ([]*KnowledgeRecord, error)
	DeleteKnowledge(ctx context.Context, id string) error
	DeleteKnowledgeByAgent(ctx context.Context, agentID string, includeShared bool) error
	VectorSearchKnowledge(ctx context.Context, opts *KnowledgeVectorSearchOptions) ([]*KnowledgeWithScore, error)

	// Cache entries.
	UpsertCacheEntry(ctx context.Context, entry *CacheEntry) error
	GetCacheEntry(ctx context.Context, agentID, key string) (*CacheEntry, error)
	DeleteCacheEntry(ctx context.Context, agentID, key string) error
	PurgeExpiredCacheEntries(ctx context.Context, now int64) (int64, error)
}
