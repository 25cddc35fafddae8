package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UIDHighWater and ModSeqHighWater track the last value handed out by the
// SequenceRegistry per mailbox, labeled by backend kind. Useful for
// spotting a mailbox whose UID space is growing unexpectedly fast.
var (
	UIDHighWater = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailstore_uid_highwater",
			Help: "Last UID handed out by the sequence registry, per mailbox.",
		},
		[]string{"backend", "mailbox"},
	)

	ModSeqHighWater = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailstore_modseq_highwater",
			Help: "Last ModSeq handed out by the sequence registry, per mailbox.",
		},
		[]string{"backend", "mailbox"},
	)

	SequenceInitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailstore_sequence_init_total",
			Help: "Number of times a mailbox's counters were lazily seeded from a backend.",
		},
		[]string{"backend"},
	)
)
