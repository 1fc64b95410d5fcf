package store

import "github.com/pkg/errors"

// Error taxonomy for the data-access layer. Callers classify failures with
// errors.Is; the concrete cause stays attached through wrapping.
var (
	// ErrConnection indicates the backing store could not be reached. It is
	// fatal to the calling operation and is not retried by this layer.
	ErrConnection = errors.New("store connection failed")

	// ErrIndexUnavailable indicates the native vector index could not be
	// created or queried. It triggers capability demotion and an in-call
	// fallback retry; it never reaches callers of the search API.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrMalformedContent indicates a stored record's content could not be
	// deserialized. The record is skipped; multi-record operations continue.
	ErrMalformedContent = errors.New("malformed record content")

	// ErrDuplicateKnowledge is surfaced when a non-shared knowledge record is
	// inserted with an identifier that already exists. Shared duplicates are
	// absorbed silently.
	ErrDuplicateKnowledge = errors.New("duplicate knowledge record")

	// ErrPartialBatchFailure is returned by the fuzzy scanner only when no
	// batch succeeded at all. If any batch produced candidates, partial
	// results are returned instead of this error.
	ErrPartialBatchFailure = errors.New("all candidate batches failed")
)
