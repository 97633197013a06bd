// Package cache holds discovery results between polls so slug lookups
// during rotation do not hammer the Gamma API.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/pkg/types"
)

// Markets is a TTL cache of discovered market windows keyed by event
// slug. Entries expire at settlement; a settled window is never a
// valid discovery answer.
type Markets struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewMarkets sizes the cache for a handful of assets with a few windows
// each; cost is counted in entries.
func NewMarkets(logger *zap.Logger) (*Markets, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Markets{cache: c, logger: logger}, nil
}

// Get returns the cached market for a slug, if still unexpired.
func (m *Markets) Get(slug string) (*types.MarketInfo, bool) {
	v, found := m.cache.Get(slug)
	if !found {
		missesTotal.Inc()
		return nil, false
	}
	info, ok := v.(*types.MarketInfo)
	if !ok {
		missesTotal.Inc()
		return nil, false
	}
	hitsTotal.Inc()
	m.logger.Debug("market-cache-hit", zap.String("slug", slug))
	return info, true
}

// Put stores a discovered market until its settlement time.
func (m *Markets) Put(info *types.MarketInfo, now time.Time) {
	ttl := info.SettlementTime.Sub(now)
	if ttl <= 0 {
		return
	}
	if m.cache.SetWithTTL(info.MarketID, info, 1, ttl) {
		setsTotal.Inc()
	}
}

// Delete drops a slug, e.g. after the window settles early.
func (m *Markets) Delete(slug string) {
	m.cache.Del(slug)
}

// Close releases the cache's internal goroutines.
func (m *Markets) Close() {
	m.cache.Close()
}
