package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SearchDuration measures how long SearchEvaluator-driven full scans take,
// labeled by whether an external index answered instead. A widening tail on
// "fallback" is the signal that a mailbox needs an external index.
var SearchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mailstore_search_duration_seconds",
		Help:    "Time to evaluate a SearchQuery against a mailbox.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"path"}, // "uidrange", "index", "fallback"
)

// SearchCandidates counts messages handed to SearchEvaluator per search, for
// the fallback path only.
var SearchCandidates = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mailstore_search_candidates",
		Help:    "Number of candidate messages evaluated per fallback search.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	},
)
