// Package store provides the vector-aware memory and knowledge store: CRUD
// over memory and knowledge records, ranked similarity retrieval with a
// native-vector or application-cosine strategy chosen at runtime, fuzzy
// text-distance candidate lookup, and an agent-scoped persisted cache.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/agentrium/recall/internal/profile"
	"github.com/agentrium/recall/internal/similarity"
	"github.com/agentrium/recall/store/cache"
)

// DriverOpener opens a backing-store driver for the given profile. The cmd
// layer supplies store/db.NewDBDriver; tests supply fakes.
type DriverOpener func(p *profile.Profile) (Driver, error)

// Store provides data access to memory records, knowledge records, and the
// persisted cache. The backing connection is established lazily on first use
// with at most one concurrent connection attempt.
type Store struct {
	profile *profile.Profile
	opener  DriverOpener

	// Connection state. connectGroup guarantees a single in-flight
	// connection attempt; late arrivals wait for its result.
	connectGroup singleflight.Group
	connMu       sync.RWMutex
	driver       Driver
	capability   *CapabilityManager

	// In-process caches.
	knowledgeCache *cache.Cache[string, *KnowledgeRecord]
	searchCacheTTL time.Duration

	// Per-scope write locks for the dedup check-then-write.
	scopeMu    sync.Mutex
	scopeLocks map[string]*sync.Mutex

	// Shared edit-distance scorer; guarded by levMu (scratch buffer reuse).
	levMu sync.Mutex
	lev   *similarity.Levenshtein

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Store that connects on first use via opener.
func New(p *profile.Profile, opener DriverOpener) *Store {
	return &Store{
		profile: p,
		opener:  opener,
		knowledgeCache: cache.New[string, *KnowledgeRecord](cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        1000,
		}),
		searchCacheTTL: p.SearchCacheTTL,
		scopeLocks:     make(map[string]*sync.Mutex),
		lev:            similarity.NewLevenshtein(),
		now:            time.Now,
	}
}

// NewWithDriver creates a Store over an already-open driver. The driver is
// migrated and probed on first use like any other connection.
func NewWithDriver(p *profile.Profile, driver Driver) *Store {
	return New(p, func(*profile.Profile) (Driver, error) {
		return driver, nil
	})
}

// ensureReady establishes the backing connection once: open the driver, ping
// it, run migrations, and probe the vector capability. Concurrent callers
// arriving during an in-flight attempt wait for it instead of connecting
// independently. A failed attempt is not cached; the next caller retries.
func (s *Store) ensureReady(ctx context.Context) error {
	s.connMu.RLock()
	ready := s.driver != nil
	s.connMu.RUnlock()
	if ready {
		return nil
	}

	_, err, _ := s.connectGroup.Do("connect", func() (any, error) {
		s.connMu.RLock()
		ready := s.driver != nil
		s.connMu.RUnlock()
		if ready {
			return nil, nil
		}

		driver, err := s.opener(s.profile)
		if err != nil {
			return nil, errors.Wrapf(ErrConnection, "failed to open driver: %v", err)
		}
		if db := driver.GetDB(); db != nil {
			if err := db.PingContext(ctx); err != nil {
				_ = driver.Close()
				return nil, errors.Wrapf(ErrConnection, "failed to ping backing store: %v", err)
			}
		}
		if err := driver.Migrate(ctx); err != nil {
			_ = driver.Close()
			return nil, errors.Wrap(err, "failed to migrate")
		}

		capability := NewCapabilityManager(driver, s.profile.EmbeddingDim)
		if err := capability.Probe(ctx); err != nil {
			_ = driver.Close()
			return nil, errors.Wrap(err, "failed to probe capability")
		}

		s.connMu.Lock()
		s.driver = driver
		s.capability = capability
		s.connMu.Unlock()
		return nil, nil
	})
	return err
}

// Capability returns the capability manager, connecting first if needed.
func (s *Store) Capability(ctx context.Context) (*CapabilityManager, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.capability, nil
}

// lockScope acquires the in-process write lock for one dedup scope and
// returns its unlock func.
func (s *Store) lockScope(key string) func() {
	s.scopeMu.Lock()
	mu, ok := s.scopeLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.scopeLocks[key] = mu
	}
	s.scopeMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Close releases the in-process caches and the backing connection.
func (s *Store) Close() error {
	s.knowledgeCache.Close()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close()
	s.driver = nil
	return err
}
