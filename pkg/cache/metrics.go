package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_cache_hits_total",
		Help: "Market cache lookups that found an entry",
	})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_cache_misses_total",
		Help: "Market cache lookups that found nothing",
	})

	setsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_cache_sets_total",
		Help: "Market cache entries stored",
	})
)
