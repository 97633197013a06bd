package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks evaluation cycles executed.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_evaluator_cycles_total",
		Help: "Total number of evaluation cycles executed",
	})

	// CyclesSkippedTotal tracks cycles skipped by reason.
	CyclesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_evaluator_cycles_skipped_total",
			Help: "Total number of evaluation cycles skipped",
		},
		[]string{"reason"},
	)

	// AttemptsCreatedTotal tracks attempts created by first-leg side.
	AttemptsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_evaluator_attempts_created_total",
			Help: "Total number of attempts created",
		},
		[]string{"side"},
	)

	// AttemptsPairedTotal tracks successful pair completions.
	AttemptsPairedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_evaluator_attempts_paired_total",
		Help: "Total number of attempts completed as paired",
	})

	// AttemptsFailedTotal tracks failed completions by reason.
	AttemptsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_evaluator_attempts_failed_total",
			Help: "Total number of attempts completed as failed",
		},
		[]string{"reason"},
	)

	// AnomaliesTotal tracks data anomalies by kind.
	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_evaluator_anomalies_total",
			Help: "Total number of data anomalies observed",
		},
		[]string{"kind"},
	)

	// ActiveAttempts tracks currently active attempts.
	ActiveAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairscan_evaluator_active_attempts",
		Help: "Number of currently active attempts",
	})
)
