// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tanda_payments_recorded_total",
		Help: "Contribution payments recorded, labelled on_time or late.",
	}, []string{"timing"})

	Defaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tanda_defaults_total",
		Help: "Contributions marked defaulted past their grace deadline.",
	})

	BackstopDraws = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tanda_backstop_draws_total",
		Help: "Shortfalls covered by the platform backstop fund.",
	})

	AdvancesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tanda_advances_issued_total",
		Help: "Advances issued against future payouts.",
	})

	AdvancesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tanda_advances_settled_total",
		Help: "Advances settled at payout time, labelled repaid or failed.",
	}, []string{"outcome"})

	Disbursements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tanda_disbursements_total",
		Help: "Payouts handed to the disbursement rail.",
	})

	CyclesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tanda_cycles_settled_total",
		Help: "Cycles closed and settled.",
	})

	CycleCloseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tanda_cycle_close_duration_seconds",
		Help:    "Wall time spent closing a cycle, including disbursement.",
		Buckets: prometheus.DefBuckets,
	})
)
