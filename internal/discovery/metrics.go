package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_discovery_requests_total",
		Help: "Gamma API requests by outcome",
	}, []string{"outcome"})

	marketsDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_discovery_markets_total",
		Help: "Market windows discovered by asset",
	}, []string{"asset"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairscan_discovery_request_duration_seconds",
		Help:    "Gamma API request latency",
		Buckets: prometheus.DefBuckets,
	})
)
