package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unit embedding whose cosine similarity against [1,0,0] is exactly sim.
func embeddingWithSimilarity(sim float64) []float32 {
	other := 1 - sim*sim
	if other < 0 {
		other = 0
	}
	return []float32{float32(sim), float32(math.Sqrt(other)), 0}
}

func seedKnowledge(t *testing.T, s *Store, id, text string, meta KnowledgeMetadata, embedding []float32) {
	t.Helper()
	require.NoError(t, s.CreateKnowledge(context.Background(), &KnowledgeRecord{
		ID:        id,
		AgentID:   "agent-1",
		Content:   KnowledgeContent{Text: text, Metadata: meta},
		Embedding: embedding,
	}))
}

func knowledgeIDs(results []*KnowledgeWithScore) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Knowledge.ID
	}
	return ids
}

func TestSearchKnowledgeOptionsValidate(t *testing.T) {
	opts := &SearchKnowledgeOptions{Embedding: []float32{1}}
	assert.Error(t, opts.Validate(), "agent id is required")

	opts = &SearchKnowledgeOptions{AgentID: "agent-1"}
	assert.Error(t, opts.Validate(), "embedding is required")

	opts = &SearchKnowledgeOptions{AgentID: "agent-1", Embedding: []float32{1}}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 10, opts.Count)
}

func TestSearchKnowledgeKeywordBoost(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeDriver())

	// Lower vector score but an exact keyword hit.
	seedKnowledge(t, s, "keyword", "the capital of France is Paris", KnowledgeMetadata{}, embeddingWithSimilarity(0.7))
	// Higher vector score, no keyword.
	seedKnowledge(t, s, "vector", "european geography overview", KnowledgeMetadata{}, embeddingWithSimilarity(0.9))

	results, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.5,
		SearchText: "Capital of France",
	})
	require.NoError(t, err)

	require.Equal(t, []string{"keyword", "vector"}, knowledgeIDs(results))
	assert.InDelta(t, 0.7*3.0, results[0].Similarity, 1e-3, "keyword hit triples the vector score")
	assert.InDelta(t, 0.9, results[1].Similarity, 1e-3)
}

func TestSearchKnowledgeContentKindWeights(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeDriver())

	embedding := embeddingWithSimilarity(0.8)
	seedKnowledge(t, s, "plain", "shared topic text", KnowledgeMetadata{}, embedding)
	seedKnowledge(t, s, "main", "shared topic text", KnowledgeMetadata{IsMain: true}, embedding)
	seedKnowledge(t, s, "chunk", "shared topic text", KnowledgeMetadata{IsChunk: true}, embedding)

	results, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.5,
		SearchText: "topic",
	})
	require.NoError(t, err)

	require.Equal(t, []string{"chunk", "main", "plain"}, knowledgeIDs(results))
	assert.InDelta(t, 0.8*3.0*1.5, results[0].Similarity, 1e-3)
	assert.InDelta(t, 0.8*3.0*1.2, results[1].Similarity, 1e-3)
	assert.InDelta(t, 0.8*3.0, results[2].Similarity, 1e-3)
}

func TestSearchKnowledgeKeywordRescue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeDriver())

	// Below threshold but above the rescue floor, with a keyword hit.
	seedKnowledge(t, s, "rescued", "rare term appears here", KnowledgeMetadata{}, embeddingWithSimilarity(0.4))
	// Below the rescue floor; the keyword cannot save it.
	seedKnowledge(t, s, "too-weak", "rare term appears here too", KnowledgeMetadata{}, embeddingWithSimilarity(0.2))
	// Below threshold without a keyword hit.
	seedKnowledge(t, s, "no-keyword", "unrelated text", KnowledgeMetadata{}, embeddingWithSimilarity(0.4))

	results, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.6,
		SearchText: "rare term",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"rescued"}, knowledgeIDs(results))
}

func TestSearchKnowledgeZeroVector(t *testing.T) {
	s := newTestStore(t, newFakeDriver())
	seedKnowledge(t, s, "k1", "text", KnowledgeMetadata{}, []float32{1, 0, 0})

	results, err := s.SearchKnowledge(context.Background(), &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{0, 0, 0},
		SearchText: "text",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchKnowledgeResultCaching(t *testing.T) {
	ctx := context.Background()
	driver := newFakeDriver()
	s := newTestStore(t, driver)

	seedKnowledge(t, s, "k1", "cached fact", KnowledgeMetadata{}, embeddingWithSimilarity(0.9))

	opts := func() *SearchKnowledgeOptions {
		return &SearchKnowledgeOptions{
			AgentID:    "agent-1",
			Embedding:  []float32{1, 0, 0},
			Threshold:  0.5,
			SearchText: "cached fact",
		}
	}

	first, err := s.SearchKnowledge(ctx, opts())
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, knowledgeIDs(first))

	// New data does not appear while the cached result is live.
	seedKnowledge(t, s, "k2", "cached fact as well", KnowledgeMetadata{}, embeddingWithSimilarity(0.95))
	second, err := s.SearchKnowledge(ctx, opts())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, knowledgeIDs(second))

	// A different search text is a different cache entry.
	other, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.5,
		SearchText: "as well",
	})
	require.NoError(t, err)
	assert.Len(t, other, 2)

	// Past the TTL the entry expires and results are recomputed.
	s.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	third, err := s.SearchKnowledge(ctx, opts())
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k1"}, knowledgeIDs(third))
}

func TestSearchKnowledgeCacheIsPerAgent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeDriver())

	require.NoError(t, s.CreateKnowledge(ctx, &KnowledgeRecord{
		ID:        "owned",
		AgentID:   "agent-1",
		Content:   KnowledgeContent{Text: "secret fact"},
		Embedding: embeddingWithSimilarity(0.9),
	}))

	mine, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-1",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.5,
		SearchText: "secret fact",
	})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	// Same search text under another agent must not hit agent-1's entry.
	others, err := s.SearchKnowledge(ctx, &SearchKnowledgeOptions{
		AgentID:    "agent-2",
		Embedding:  []float32{1, 0, 0},
		Threshold:  0.5,
		SearchText: "secret fact",
	})
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestKeywordMatchScore(t *testing.T) {
	assert.EqualValues(t, keywordHitScore, keywordMatchScore("paris", "The capital is PARIS."))
	assert.EqualValues(t, keywordMissScore, keywordMatchScore("london", "The capital is Paris."))
	assert.EqualValues(t, keywordMissScore, keywordMatchScore("", "anything"))
}

func TestContentKindWeight(t *testing.T) {
	assert.Equal(t, float32(chunkWeight), contentKindWeight(KnowledgeMetadata{IsChunk: true}))
	assert.Equal(t, float32(mainWeight), contentKindWeight(KnowledgeMetadata{IsMain: true}))
	assert.Equal(t, float32(chunkWeight), contentKindWeight(KnowledgeMetadata{IsChunk: true, IsMain: true}), "chunk wins when both are set")
	assert.Equal(t, float32(plainWeight), contentKindWeight(KnowledgeMetadata{}))
}
