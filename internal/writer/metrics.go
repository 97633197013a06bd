package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_writer_commands_total",
		Help: "Commands enqueued to the durable writer by kind",
	}, []string{"kind"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairscan_writer_queue_depth",
		Help: "Commands currently buffered in the writer queue",
	})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_writer_batches_total",
		Help: "Batches flushed to the store",
	})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairscan_writer_batch_size",
		Help:    "Commands per flushed batch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_writer_retries_total",
		Help: "Store calls retried after an error",
	})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairscan_writer_failures_total",
		Help: "Writer failures by reason",
	}, []string{"reason"})
)
