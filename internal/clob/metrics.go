package clob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks REST requests by endpoint and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_clob_requests_total",
			Help: "Total number of CLOB REST requests",
		},
		[]string{"endpoint", "outcome"},
	)

	// RequestDuration tracks REST request latency by endpoint.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairscan_clob_request_duration_seconds",
			Help:    "CLOB REST request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)
