package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/similarity"
)

// Keyword and content-kind multipliers for hybrid ranking. A keyword hit
// multiplies the vector score; chunked and main documents get an extra
// weight on top.
const (
	keywordHitScore  = 3.0
	keywordMissScore = 1.0
	chunkWeight      = 1.5
	mainWeight       = 1.2
	plainWeight      = 1.0
)

// SearchKnowledgeOptions describes a hybrid knowledge retrieval for one agent.
type SearchKnowledgeOptions struct {
	AgentID    string
	Embedding  []float32
	Threshold  float32
	Count      int
	SearchText string
}

// Validate validates the search options and applies defaults.
func (o *SearchKnowledgeOptions) Validate() error {
	if o.AgentID == "" {
		return errors.New("agent id cannot be empty")
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

// SearchKnowledge returns knowledge records visible to the agent, ranked by
// a combined vector x keyword score. Results are cached per agent and search
// text; a live cache entry short-circuits all scoring.
func (s *Store) SearchKnowledge(ctx context.Context, opts *SearchKnowledgeOptions) ([]*KnowledgeWithScore, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	cacheKey := knowledgeSearchCacheKey(opts.SearchText)
	if data, ok, err := s.GetCache(ctx, opts.AgentID, cacheKey); err == nil && ok {
		var cached []*KnowledgeWithScore
		if err := json.Unmarshal(data, &cached); err == nil {
			metricKnowledgeCache.WithLabelValues(cacheHit).Inc()
			return cached, nil
		}
		slog.Warn("discarding undecodable knowledge search cache entry", "key", cacheKey, "agent_id", opts.AgentID)
	}
	metricKnowledgeCache.WithLabelValues(cacheMiss).Inc()

	results, err := s.rankKnowledge(ctx, opts)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(results); err == nil {
		if err := s.SetCache(ctx, opts.AgentID, cacheKey, data, s.searchCacheTTL); err != nil {
			slog.Warn("failed to cache knowledge search results", "error", err)
		}
	}
	return results, nil
}

// rankKnowledge retrieves candidates by vector similarity and blends in the
// keyword signal.
func (s *Store) rankKnowledge(ctx context.Context, opts *SearchKnowledgeOptions) ([]*KnowledgeWithScore, error) {
	if similarity.IsZeroVector(opts.Embedding) {
		return []*KnowledgeWithScore{}, nil
	}

	candidates, err := s.knowledgeCandidates(ctx, opts)
	if err != nil {
		return nil, err
	}

	results := make([]*KnowledgeWithScore, 0, len(candidates))
	for _, c := range candidates {
		kw := keywordMatchScore(opts.SearchText, c.Knowledge.Content.Text) *
			contentKindWeight(c.Knowledge.Content.Metadata)

		// A strong keyword hit rescues a borderline vector match.
		if c.Similarity < opts.Threshold && !(kw > keywordMissScore && c.Similarity >= rescueFloor) {
			continue
		}

		results = append(results, &KnowledgeWithScore{
			Knowledge:  c.Knowledge,
			Similarity: c.Similarity * kw,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// knowledgeCandidates dispatches to the native vector path or the bounded
// cosine fallback, mirroring the memory search engine. Candidate Similarity
// holds the raw vector score.
func (s *Store) knowledgeCandidates(ctx context.Context, opts *SearchKnowledgeOptions) ([]*KnowledgeWithScore, error) {
	if s.capability.IsVectorEnabled() {
		candidates, err := s.driver.VectorSearchKnowledge(ctx, &KnowledgeVectorSearchOptions{
			Embedding: opts.Embedding,
			AgentID:   opts.AgentID,
			Limit:     2 * opts.Count,
		})
		if err == nil {
			metricSearches.WithLabelValues(searchPathNative).Inc()
			return candidates, nil
		}
		s.capability.Demote(ctx, "native knowledge search failed: "+err.Error())
	}

	metricSearches.WithLabelValues(searchPathFallback).Inc()
	records, err := s.driver.ListKnowledge(ctx, &FindKnowledge{
		AgentID: &opts.AgentID,
		Limit:   fallbackScanLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan knowledge candidates")
	}

	candidates := make([]*KnowledgeWithScore, 0, len(records))
	for _, k := range records {
		candidates = append(candidates, &KnowledgeWithScore{
			Knowledge:  k,
			Similarity: similarity.Cosine(opts.Embedding, k.Embedding),
		})
	}
	return candidates, nil
}

// keywordMatchScore scores a case-insensitive substring hit of the search
// text inside the candidate text.
func keywordMatchScore(searchText, candidateText string) float32 {
	if searchText == "" {
		return keywordMissScore
	}
	if strings.Contains(strings.ToLower(candidateText), strings.ToLower(searchText)) {
		return keywordHitScore
	}
	return keywordMissScore
}

// contentKindWeight weights a candidate by its document kind.
func contentKindWeight(meta KnowledgeMetadata) float32 {
	switch {
	case meta.IsChunk:
		return chunkWeight
	case meta.IsMain:
		return mainWeight
	default:
		return plainWeight
	}
}

// knowledgeSearchCacheKey derives the persisted cache key for one search
// text. The agent scope is carried by the cache entry itself.
func knowledgeSearchCacheKey(searchText string) string {
	sum := sha256.Sum256([]byte(searchText))
	return "knowledge_search_" + hex.EncodeToString(sum[:16])
}
