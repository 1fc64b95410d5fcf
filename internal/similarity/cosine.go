// Package similarity provides the scoring primitives used by the store layer:
// cosine similarity over embedding vectors, Levenshtein edit distance over
// short text, and partial top-K selection for merging scored batches.
package similarity

import "math"

// Cosine computes the cosine similarity between two vectors.
// It returns 0 when the vectors differ in length or either has zero magnitude,
// so callers never have to guard against division by zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// IsZeroVector reports whether v is empty or has zero magnitude.
// Used by the search engine to short-circuit similarity scoring: a
// zero-magnitude query scores 0 against every candidate.
func IsZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
