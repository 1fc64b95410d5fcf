package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	searchPathNative   = "native"
	searchPathFallback = "fallback"

	cacheHit  = "hit"
	cacheMiss = "miss"
)

var (
	metricSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "store",
		Name:      "searches_total",
		Help:      "Similarity searches by query path.",
	}, []string{"path"})

	metricDemotions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "store",
		Name:      "capability_demotions_total",
		Help:      "Transitions from the native vector path to the standard fallback.",
	})

	metricKnowledgeCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "store",
		Name:      "knowledge_search_cache_total",
		Help:      "Knowledge search cache lookups by result.",
	}, []string{"result"})

	metricFuzzyBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recall",
		Subsystem: "store",
		Name:      "fuzzy_batch_failures_total",
		Help:      "Candidate batches skipped due to errors during fuzzy scans.",
	})
)
