package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/similarity"
)

// fallbackScanLimit bounds the candidate scan of the standard path so a
// search never materializes an entire collection.
const fallbackScanLimit = 500

// rescueFloor is the minimum vector score at which a strong keyword hit can
// rescue a candidate that missed the caller's threshold.
const rescueFloor = 0.3

// SearchMemoriesOptions describes a ranked memory retrieval.
type SearchMemoriesOptions struct {
	Embedding  []float32
	Table      string
	AgentID    *string
	RoomID     *string
	Threshold  float32
	Count      int
	UniqueOnly bool
}

// Validate validates the search options and applies defaults.
func (o *SearchMemoriesOptions) Validate() error {
	if o.Table == "" {
		return errors.New("table cannot be empty")
	}
	if len(o.Embedding) == 0 {
		return errors.New("embedding cannot be empty")
	}
	if o.Count < 0 {
		return errors.Errorf("count cannot be negative: %d", o.Count)
	}
	if o.Count == 0 {
		o.Count = 10
	}
	if o.Count > 1000 {
		return errors.Errorf("count too large (max 1000): %d", o.Count)
	}
	return nil
}

// SearchMemories returns up to Count memory records ranked by similarity to
// the query embedding. The native vector path is used while enabled; any
// failure there demotes the capability and falls through to the standard
// path instead of surfacing an error.
func (s *Store) SearchMemories(ctx context.Context, opts *SearchMemoriesOptions) ([]*MemoryWithScore, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// A zero-magnitude query scores 0 against everything; there is nothing
	// to rank.
	if similarity.IsZeroVector(opts.Embedding) {
		return []*MemoryWithScore{}, nil
	}

	if s.capability.IsVectorEnabled() {
		results, err := s.nativeSearchMemories(ctx, opts)
		if err == nil {
			metricSearches.WithLabelValues(searchPathNative).Inc()
			return results, nil
		}
		s.capability.Demote(ctx, "native memory search failed: "+err.Error())
	}

	metricSearches.WithLabelValues(searchPathFallback).Inc()
	return s.fallbackSearchMemories(ctx, opts)
}

// nativeSearchMemories runs the backend's nearest-neighbor query. It
// over-fetches 2x the requested count because room and uniqueness predicates
// are applied after the fact.
func (s *Store) nativeSearchMemories(ctx context.Context, opts *SearchMemoriesOptions) ([]*MemoryWithScore, error) {
	candidates, err := s.driver.VectorSearchMemories(ctx, &VectorSearchOptions{
		Embedding: opts.Embedding,
		Table:     opts.Table,
		AgentID:   opts.AgentID,
		Limit:     2 * opts.Count,
	})
	if err != nil {
		return nil, err
	}

	results := make([]*MemoryWithScore, 0, opts.Count)
	for _, c := range candidates {
		if !memoryInScope(c.Memory, opts) {
			continue
		}
		if c.Score < opts.Threshold {
			continue
		}
		results = append(results, c)
		if len(results) == opts.Count {
			break
		}
	}
	return results, nil
}

// fallbackSearchMemories loads a bounded candidate set matching the scope
// filter and ranks it with in-process cosine similarity. Candidates without
// an embedding score 0.
func (s *Store) fallbackSearchMemories(ctx context.Context, opts *SearchMemoriesOptions) ([]*MemoryWithScore, error) {
	candidates, err := s.driver.ListMemories(ctx, &FindMemory{
		Table:      &opts.Table,
		AgentID:    opts.AgentID,
		RoomID:     opts.RoomID,
		UniqueOnly: opts.UniqueOnly,
		Limit:      fallbackScanLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan memory candidates")
	}

	results := make([]*MemoryWithScore, 0, len(candidates))
	for _, m := range candidates {
		score := similarity.Cosine(opts.Embedding, m.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, &MemoryWithScore{Memory: m, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// memoryInScope applies the scope predicates the native query cannot
// evaluate itself.
func memoryInScope(m *MemoryRecord, opts *SearchMemoriesOptions) bool {
	if m.Table != opts.Table {
		return false
	}
	if opts.AgentID != nil && m.AgentID != *opts.AgentID {
		return false
	}
	if opts.RoomID != nil && m.RoomID != *opts.RoomID {
		return false
	}
	if opts.UniqueOnly && !m.Unique {
		return false
	}
	return true
}
