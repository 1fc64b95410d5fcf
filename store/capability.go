package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// CapabilityStatus describes the query strategy the store is currently able
// to use for similarity search.
type CapabilityStatus int32

const (
	CapabilityUninitialized CapabilityStatus = iota
	CapabilityProbing
	CapabilityVectorEnabled
	CapabilityStandardFallback
)

func (s CapabilityStatus) String() string {
	switch s {
	case CapabilityUninitialized:
		return "uninitialized"
	case CapabilityProbing:
		return "probing"
	case CapabilityVectorEnabled:
		return "vector_enabled"
	case CapabilityStandardFallback:
		return "standard_fallback"
	default:
		return "unknown"
	}
}

// CapabilityManager owns the per-connection capability state. Probing runs
// once at store initialization; vector_enabled -> standard_fallback is a
// one-way transition and the state is never promoted back within a session.
//
// IsVectorEnabled is a lock-free atomic read so every query path can consult
// it without contention. Probe and Demote are mutually exclusive so
// concurrent demotions never race to build the fallback index twice.
type CapabilityManager struct {
	driver    Driver
	dimension int

	state atomic.Int32

	mu            sync.Mutex
	probed        bool
	fallbackReady bool
}

// NewCapabilityManager creates a capability manager for one driver connection.
func NewCapabilityManager(driver Driver, dimension int) *CapabilityManager {
	m := &CapabilityManager{driver: driver, dimension: dimension}
	m.state.Store(int32(CapabilityUninitialized))
	return m
}

// Status returns the current capability state.
func (m *CapabilityManager) Status() CapabilityStatus {
	return CapabilityStatus(m.state.Load())
}

// IsVectorEnabled reports whether the native vector path is active.
func (m *CapabilityManager) IsVectorEnabled() bool {
	return m.Status() == CapabilityVectorEnabled
}

// Probe detects the backend's vector capability and creates the matching
// index. It is idempotent; only the first call does work. On any vector-index
// failure it falls back to a plain secondary index and enters
// standard_fallback rather than propagating the error.
func (m *CapabilityManager) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.probed {
		return nil
	}
	m.probed = true
	m.state.Store(int32(CapabilityProbing))

	if !m.driver.SupportsVectorSearch() {
		slog.Info("backend has no native vector search, using standard fallback")
		return m.enterFallbackLocked(ctx)
	}

	sharded, err := m.driver.EmbeddingTableSharded(ctx)
	if err != nil {
		slog.Warn("failed to check embedding table sharding", "error", err)
		return m.enterFallbackLocked(ctx)
	}
	if sharded {
		slog.Warn("embedding table is horizontally partitioned, vector index disabled")
		return m.enterFallbackLocked(ctx)
	}

	if err := m.driver.CreateVectorIndex(ctx, m.dimension); err != nil {
		slog.Warn("failed to create vector index, using standard fallback", "error", err)
		return m.enterFallbackLocked(ctx)
	}

	m.state.Store(int32(CapabilityVectorEnabled))
	slog.Info("native vector search enabled", "dimension", m.dimension)
	return nil
}

// Demote transitions to standard_fallback and ensures the fallback index
// exists. Safe to call concurrently and repeatedly; demotions after the first
// are no-ops.
func (m *CapabilityManager) Demote(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Status() == CapabilityStandardFallback && m.fallbackReady {
		return
	}

	slog.Warn("demoting to standard fallback search", "reason", reason)
	metricDemotions.Inc()
	if err := m.enterFallbackLocked(ctx); err != nil {
		slog.Error("failed to prepare fallback index", "error", err)
	}
}

// enterFallbackLocked sets the fallback state and builds the plain secondary
// index once. Callers hold m.mu.
func (m *CapabilityManager) enterFallbackLocked(ctx context.Context) error {
	m.state.Store(int32(CapabilityStandardFallback))
	if m.fallbackReady {
		return nil
	}
	if err := m.driver.CreateFallbackIndex(ctx); err != nil {
		return errors.Wrap(err, "failed to create fallback index")
	}
	m.fallbackReady = true
	return nil
}
