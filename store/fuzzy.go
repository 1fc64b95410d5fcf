package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/agentrium/recall/internal/similarity"
)

// fuzzyBatchSize is the number of records scanned per batch when computing
// edit distances, bounding memory use on large collections.
const fuzzyBatchSize = 1000

// maxBatchFailures stops a fuzzy scan after this many consecutive batch
// failures; without it a persistently erroring backend would advance the
// offset forever. A successful batch resets the count, so isolated failures
// scattered through a long scan do not abort it.
const maxBatchFailures = 3

// FuzzyScope restricts a fuzzy candidate scan to one record family slice.
type FuzzyScope struct {
	Table   string
	AgentID *string
	RoomID  *string
}

// EmbeddingCandidate pairs a stored embedding with the edit distance between
// its record's text and the query text. Lower distance is closer.
type EmbeddingCandidate struct {
	MemoryID  string
	Embedding []float32
	Distance  int
}

// FindClosestEmbeddings scans memory records in fixed-size batches, scoring
// each candidate's text against queryText with case-folded Levenshtein
// distance, and merges batch results into a running top-K ordered ascending
// by distance.
//
// A failed batch is logged and skipped; accumulated results are returned as
// long as at least one batch succeeded. Cancellation is honored between
// batches.
func (s *Store) FindClosestEmbeddings(ctx context.Context, queryText string, scope FuzzyScope, matchCount int) ([]*EmbeddingCandidate, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	if scope.Table == "" {
		return nil, errors.New("table cannot be empty")
	}
	if matchCount <= 0 {
		matchCount = 10
	}

	query := strings.ToLower(queryText)

	var top []*EmbeddingCandidate
	var succeeded, failed int
	var lastErr error

	for offset := 0; ; offset += fuzzyBatchSize {
		if err := ctx.Err(); err != nil {
			return top, err
		}

		batch, err := s.driver.ListMemories(ctx, &FindMemory{
			Table:         &scope.Table,
			AgentID:       scope.AgentID,
			RoomID:        scope.RoomID,
			WithEmbedding: true,
			Limit:         fuzzyBatchSize,
			Offset:        offset,
		})
		if err != nil {
			failed++
			lastErr = err
			slog.Error("fuzzy candidate batch failed, continuing", "offset", offset, "error", err)
			metricFuzzyBatchFailures.Inc()
			if failed >= maxBatchFailures {
				break
			}
			continue
		}
		succeeded++
		failed = 0

		scored := s.scoreBatch(query, batch)
		top = similarity.SelectSmallest(append(top, scored...), matchCount, func(c *EmbeddingCandidate) float64 {
			return float64(c.Distance)
		})

		if len(batch) < fuzzyBatchSize {
			break
		}
	}

	if succeeded == 0 && failed > 0 {
		return nil, errors.Wrapf(ErrPartialBatchFailure, "last error: %v", lastErr)
	}
	return top, nil
}

// scoreBatch computes edit distances for one batch synchronously. The shared
// scorer's scratch buffer is reused across batches and calls, so access is
// serialized.
func (s *Store) scoreBatch(query string, batch []*MemoryRecord) []*EmbeddingCandidate {
	s.levMu.Lock()
	defer s.levMu.Unlock()

	scored := make([]*EmbeddingCandidate, 0, len(batch))
	for _, m := range batch {
		scored = append(scored, &EmbeddingCandidate{
			MemoryID:  m.ID,
			Embedding: m.Embedding,
			Distance:  s.lev.Distance(query, strings.ToLower(m.Content.Text)),
		})
	}
	return scored
}
