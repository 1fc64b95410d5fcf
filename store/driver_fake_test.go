package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/similarity"
)

var errMemoryNotFound = errors.New("memory not found")

// fakeDriver is an in-memory Driver with injectable failures, standing in
// for a backing database in store-layer tests.
type fakeDriver struct {
	mu           sync.Mutex
	memories     map[string]*MemoryRecord
	knowledge    map[string]*KnowledgeRecord
	cacheEntries map[string]*CacheEntry

	supportsVector bool
	sharded        bool

	migrateErr       error
	vectorIndexErr   error
	fallbackIndexErr error
	vectorSearchErr  error
	listMemoriesErr  func(find *FindMemory) error
	listKnowledgeErr error
	createMemoryErr  error
	upsertCacheErr   error

	vectorIndexCalls   int
	fallbackIndexCalls int
	listMemoriesCalls  int
	vectorSearchCalls  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		memories:     make(map[string]*MemoryRecord),
		knowledge:    make(map[string]*KnowledgeRecord),
		cacheEntries: make(map[string]*CacheEntry),
	}
}

func (d *fakeDriver) GetDB() *sql.DB { return nil }

func (d *fakeDriver) Migrate(context.Context) error { return d.migrateErr }

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) SupportsVectorSearch() bool { return d.supportsVector }

func (d *fakeDriver) CreateVectorIndex(context.Context, int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vectorIndexCalls++
	return d.vectorIndexErr
}

func (d *fakeDriver) CreateFallbackIndex(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallbackIndexCalls++
	return d.fallbackIndexErr
}

func (d *fakeDriver) EmbeddingTableSharded(context.Context) (bool, error) {
	return d.sharded, nil
}

func (d *fakeDriver) CreateMemory(_ context.Context, create *MemoryRecord) error {
	if d.createMemoryErr != nil {
		return d.createMemoryErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.memories[create.ID] = &clone
	return nil
}

func (d *fakeDriver) GetMemory(_ context.Context, id string) (*MemoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memories[id], nil
}

func (d *fakeDriver) ListMemories(_ context.Context, find *FindMemory) ([]*MemoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listMemoriesCalls++
	if d.listMemoriesErr != nil {
		if err := d.listMemoriesErr(find); err != nil {
			return nil, err
		}
	}

	list := []*MemoryRecord{}
	for _, m := range d.memories {
		if matchMemory(m, find) {
			list = append(list, m)
		}
	}
	sortMemories(list)
	return window(list, find.Limit, find.Offset), nil
}

func (d *fakeDriver) CountMemories(_ context.Context, find *FindMemory) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var count int64
	for _, m := range d.memories {
		if matchMemory(m, find) {
			count++
		}
	}
	return count, nil
}

func (d *fakeDriver) UpdateMemoryStatus(_ context.Context, id, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[id]
	if !ok {
		return errMemoryNotFound
	}
	m.Status = status
	return nil
}

func (d *fakeDriver) DeleteMemory(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memories, id)
	return nil
}

func (d *fakeDriver) DeleteMemories(_ context.Context, find *FindMemory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, m := range d.memories {
		if matchMemory(m, find) {
			delete(d.memories, id)
		}
	}
	return nil
}

func (d *fakeDriver) VectorSearchMemories(_ context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vectorSearchCalls++
	if d.vectorSearchErr != nil {
		return nil, d.vectorSearchErr
	}

	results := []*MemoryWithScore{}
	for _, m := range d.memories {
		if m.Table != opts.Table || len(m.Embedding) == 0 {
			continue
		}
		if opts.AgentID != nil && m.AgentID != *opts.AgentID {
			continue
		}
		results = append(results, &MemoryWithScore{
			Memory: m,
			Score:  similarity.Cosine(opts.Embedding, m.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *fakeDriver) CreateKnowledge(_ context.Context, create *KnowledgeRecord) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.knowledge[create.ID]; ok {
		return false, nil
	}
	clone := *create
	d.knowledge[create.ID] = &clone
	return true, nil
}

func (d *fakeDriver) GetKnowledge(_ context.Context, id string) (*KnowledgeRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.knowledge[id], nil
}

func (d *fakeDriver) ListKnowledge(_ context.Context, find *FindKnowledge) ([]*KnowledgeRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listKnowledgeErr != nil {
		return nil, d.listKnowledgeErr
	}

	list := []*KnowledgeRecord{}
	for _, k := range d.knowledge {
		if find.ID != nil && k.ID != *find.ID {
			continue
		}
		if find.AgentID != nil && k.AgentID != *find.AgentID && !k.Shared() {
			continue
		}
		if find.WithEmbedding && len(k.Embedding) == 0 {
			continue
		}
		list = append(list, k)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
	return windowKnowledge(list, find.Limit, find.Offset), nil
}

func (d *fakeDriver) DeleteKnowledge(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.knowledge, id)
	return nil
}

func (d *fakeDriver) DeleteKnowledgeByAgent(_ context.Context, agentID string, includeShared bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, k := range d.knowledge {
		if k.AgentID == agentID || (includeShared && k.Shared()) {
			delete(d.knowledge, id)
		}
	}
	return nil
}

func (d *fakeDriver) VectorSearchKnowledge(_ context.Context, opts *KnowledgeVectorSearchOptions) ([]*KnowledgeWithScore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vectorSearchErr != nil {
		return nil, d.vectorSearchErr
	}

	results := []*KnowledgeWithScore{}
	for _, k := range d.knowledge {
		if len(k.Embedding) == 0 {
			continue
		}
		if k.AgentID != opts.AgentID && !k.Shared() {
			continue
		}
		results = append(results, &KnowledgeWithScore{
			Knowledge:  k,
			Similarity: similarity.Cosine(opts.Embedding, k.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *fakeDriver) UpsertCacheEntry(_ context.Context, entry *CacheEntry) error {
	if d.upsertCacheErr != nil {
		return d.upsertCacheErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *entry
	d.cacheEntries[entry.AgentID+"\x00"+entry.Key] = &clone
	return nil
}

func (d *fakeDriver) GetCacheEntry(_ context.Context, agentID, key string) (*CacheEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cacheEntries[agentID+"\x00"+key], nil
}

func (d *fakeDriver) DeleteCacheEntry(_ context.Context, agentID, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cacheEntries, agentID+"\x00"+key)
	return nil
}

func (d *fakeDriver) PurgeExpiredCacheEntries(_ context.Context, now int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var purged int64
	for key, entry := range d.cacheEntries {
		if entry.ExpiresTs <= now {
			delete(d.cacheEntries, key)
			purged++
		}
	}
	return purged, nil
}

func matchMemory(m *MemoryRecord, find *FindMemory) bool {
	if find.ID != nil && m.ID != *find.ID {
		return false
	}
	if find.Table != nil && m.Table != *find.Table {
		return false
	}
	if find.AgentID != nil && m.AgentID != *find.AgentID {
		return false
	}
	if find.RoomID != nil && m.RoomID != *find.RoomID {
		return false
	}
	if find.UserID != nil && m.UserID != *find.UserID {
		return false
	}
	if find.Status != nil && m.Status != *find.Status {
		return false
	}
	if find.UniqueOnly && !m.Unique {
		return false
	}
	if find.WithEmbedding && len(m.Embedding) == 0 {
		return false
	}
	return true
}

func sortMemories(list []*MemoryRecord) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedTs != list[j].CreatedTs {
			return list[i].CreatedTs > list[j].CreatedTs
		}
		return list[i].ID < list[j].ID
	})
}

func window(list []*MemoryRecord, limit, offset int) []*MemoryRecord {
	if limit <= 0 {
		return list
	}
	if offset >= len(list) {
		return []*MemoryRecord{}
	}
	list = list[offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func windowKnowledge(list []*KnowledgeRecord, limit, offset int) []*KnowledgeRecord {
	if limit <= 0 {
		return list
	}
	if offset >= len(list) {
		return []*KnowledgeRecord{}
	}
	list = list[offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}
