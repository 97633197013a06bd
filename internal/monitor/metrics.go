package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	monitorsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairscan_monitor_sessions",
		Help: "Monitor sessions by lifecycle state",
	}, []string{"state"})

	marketsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_monitor_markets_completed_total",
		Help: "Market windows monitored to settlement, by asset",
	}, []string{"asset"})

	bootFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_monitor_boot_fallbacks_total",
		Help: "Boots that needed the REST book fetch because the stream stayed silent",
	})

	restRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_monitor_rest_refreshes_total",
		Help: "REST book refreshes triggered by a silent stream",
	})

	feedGapCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_monitor_feed_gap_cycles_total",
		Help: "Cycles skipped because the feed had gone quiet",
	})

	anomalyLimitExceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_monitor_anomaly_limit_exceeded_total",
		Help: "Market windows whose anomaly count passed the configured limit",
	})

	discoveryRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_monitor_discovery_retries_total",
		Help: "Discovery attempts that found no market, by asset",
	}, []string{"asset"})
)
