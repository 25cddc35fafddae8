package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DispatchTotal and ListenerPrunedTotal instrument the ListenerDispatcher,
// by event kind and by reason respectively.
var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_dispatch_total",
			Help: "Number of events delivered to a listener.",
		},
		[]string{"event"},
	)

	ListenerPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailstore_listener_pruned_total",
			Help: "Number of listeners removed because they reported closed.",
		},
	)
)
