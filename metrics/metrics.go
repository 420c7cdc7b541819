package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bondmatch"

var (
	QuotesAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_admitted_total",
			Help:      "Quote requests admitted into a live auction",
		},
	)

	QuotesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_rejected_total",
			Help:      "Quote requests refused at intake, by reason",
		},
		[]string{"reason"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_transitions_total",
			Help:      "Accepted auction state transitions",
		},
		[]string{"target", "trigger"},
	)

	ClearingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clearing_duration_seconds",
			Help:      "Time spent computing a clearing result",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	MatchedQuantity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clearing_matched_quantity",
			Help:      "Matched quantity per cleared auction",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		},
	)

	AuditVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_verifications_total",
			Help:      "Audit digest verifications, by result",
		},
		[]string{"result"},
	)

	DroppedDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_deltas_total",
			Help:      "Deltas dropped because a consumer was not keeping up",
		},
		[]string{"sink"},
	)
)
