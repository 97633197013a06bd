package book

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks book updates applied by event type.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairscan_book_updates_total",
			Help: "Total number of book updates applied",
		},
		[]string{"event_type"},
	)

	// CrossedQuotesTotal counts updates that produced a crossed quote.
	CrossedQuotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_book_crossed_quotes_total",
		Help: "Total number of updates producing best_bid > best_ask",
	})

	// QuotesTracked tracks the number of tokens with a quote.
	QuotesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairscan_book_quotes_tracked",
		Help: "Number of tokens with a tracked quote",
	})

	// MalformedPricesTotal counts updates rejected for unparseable prices.
	MalformedPricesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairscan_book_malformed_prices_total",
		Help: "Total number of updates rejected for malformed prices",
	})
)
