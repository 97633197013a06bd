package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mglvsky/pairscan/internal/discovery"
	"github.com/mglvsky/pairscan/pkg/types"
)

// Discoverer finds market windows. *discovery.Client implements it.
type Discoverer interface {
	FindActiveMarket(ctx context.Context, asset string, now time.Time) (*types.MarketInfo, error)
	FindMarketBySlug(ctx context.Context, slug, asset string) (*types.MarketInfo, error)
	Slug(asset string, windowStart int64) string
}

// Runner is a startable monitor session. *Monitor implements it.
type Runner interface {
	Run(ctx context.Context) (*types.MarketSummary, error)
	Release()
	Market() types.MarketInfo
	State() State
}

const (
	maxDiscoveryRetries           = 40
	discoveryRetryBaseDelay       = 2 * time.Second
	discoveryRetryMaxDelay        = 5 * time.Second
	defaultSuccessorRetryInterval = 15 * time.Second
)

// SupervisorConfig assembles the rotation supervisor.
type SupervisorConfig struct {
	Assets     []string
	Discovery  Discoverer
	NewMonitor func(types.MarketInfo) (Runner, error)

	// PreDiscoveryLead is how long before settlement the successor
	// window is discovered and booted.
	PreDiscoveryLead time.Duration

	// SuccessorRetryInterval is how often a missing successor window is
	// re-polled once the lead time has passed.
	SuccessorRetryInterval time.Duration

	Logger *zap.Logger
}

// Supervisor runs one rotation loop per asset: discover the live
// window, monitor it, boot the successor shortly before settlement,
// and hand over. Per asset there is at most one settled-toward monitor
// and one booting successor at any time.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *zap.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	live map[*session]struct{}
}

// NewSupervisor creates the rotation supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.PreDiscoveryLead <= 0 {
		cfg.PreDiscoveryLead = 120 * time.Second
	}
	if cfg.SuccessorRetryInterval <= 0 {
		cfg.SuccessorRetryInterval = defaultSuccessorRetryInterval
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger, live: make(map[*session]struct{})}
}

// SessionStatus describes one running monitor.
type SessionStatus struct {
	Asset          string    `json:"asset"`
	Slug           string    `json:"slug"`
	State          string    `json:"state"`
	SettlementTime time.Time `json:"settlement_time"`
}

// Sessions reports every monitor currently running, booting successors
// included.
func (s *Supervisor) Sessions() []SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]SessionStatus, 0, len(s.live))
	for sess := range s.live {
		statuses = append(statuses, SessionStatus{
			Asset:          sess.market.CryptoAsset,
			Slug:           sess.market.MarketID,
			State:          sess.runner.State().String(),
			SettlementTime: sess.market.SettlementTime,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Asset != statuses[j].Asset {
			return statuses[i].Asset < statuses[j].Asset
		}
		return statuses[i].SettlementTime.Before(statuses[j].SettlementTime)
	})
	return statuses
}

func (s *Supervisor) track(sess *session) {
	s.mu.Lock()
	s.live[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Supervisor) untrack(sess *session) {
	s.mu.Lock()
	delete(s.live, sess)
	s.mu.Unlock()
}

// Run blocks until the context is cancelled and every asset loop has
// drained.
func (s *Supervisor) Run(ctx context.Context) {
	for _, asset := range s.cfg.Assets {
		s.wg.Add(1)
		go func(asset string) {
			defer s.wg.Done()
			s.runAsset(ctx, asset)
		}(asset)
	}
	s.wg.Wait()
}

// session is one launched monitor and its completion signal.
type session struct {
	market types.MarketInfo
	runner Runner
	done   chan struct{}
}

func (s *Supervisor) launch(ctx context.Context, info *types.MarketInfo) *session {
	runner, err := s.cfg.NewMonitor(*info)
	if err != nil {
		s.logger.Error("monitor-construction-failed",
			zap.String("market-id", info.MarketID), zap.Error(err))
		return nil
	}
	sess := &session{market: *info, runner: runner, done: make(chan struct{})}
	s.track(sess)
	go func() {
		defer close(sess.done)
		defer s.untrack(sess)
		if _, err := runner.Run(ctx); err != nil {
			s.logger.Warn("monitor-run-ended-with-error",
				zap.String("market-id", sess.market.MarketID), zap.Error(err))
		}
	}()
	return sess
}

func (s *Supervisor) runAsset(ctx context.Context, asset string) {
	logger := s.logger.With(zap.String("asset", asset))
	logger.Info("asset-rotation-started")

	var lastWindowStart int64
	var pending *session

	for ctx.Err() == nil {
		var current *session
		if pending != nil {
			current, pending = pending, nil
			// The predecessor is done, the successor may leave starting
			// even if its window has not formally opened.
			current.runner.Release()
			logger.Info("rotated-to-successor",
				zap.String("market-id", current.market.MarketID))
		} else {
			info := s.discoverWithRetry(ctx, asset, lastWindowStart)
			if info == nil {
				break
			}
			current = s.launch(ctx, info)
			if current == nil {
				continue
			}
		}
		if ts := discovery.SlugTimestamp(current.market.MarketID); ts > 0 {
			lastWindowStart = ts
		}

		leadAt := current.market.SettlementTime.Add(-s.cfg.PreDiscoveryLead)
		leadTimer := time.NewTimer(time.Until(leadAt))

		running := true
		for running {
			select {
			case <-ctx.Done():
				leadTimer.Stop()
				<-current.done
				running = false
			case <-current.done:
				leadTimer.Stop()
				running = false
			case <-leadTimer.C:
				if pending != nil {
					break
				}
				next := s.discoverSuccessor(ctx, asset, lastWindowStart)
				if next == nil {
					// Window not posted yet, try again shortly.
					leadTimer.Reset(s.cfg.SuccessorRetryInterval)
					break
				}
				pending = s.launch(ctx, next)
				if pending == nil {
					leadTimer.Reset(s.cfg.SuccessorRetryInterval)
				}
			}
		}
	}

	if pending != nil {
		<-pending.done
	}
	logger.Info("asset-rotation-stopped")
}

// discoverWithRetry finds the live window, trying the targeted
// next-window slug first when the previous window is known.
func (s *Supervisor) discoverWithRetry(ctx context.Context, asset string, lastWindowStart int64) *types.MarketInfo {
	for attempt := 0; attempt < maxDiscoveryRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		if lastWindowStart > 0 {
			slug := s.cfg.Discovery.Slug(asset, lastWindowStart+discovery.WindowSeconds)
			info, err := s.cfg.Discovery.FindMarketBySlug(ctx, slug, asset)
			if err != nil {
				s.logger.Warn("targeted-discovery-failed",
					zap.String("slug", slug), zap.Error(err))
			} else if info != nil {
				return info
			}
		}

		info, err := s.cfg.Discovery.FindActiveMarket(ctx, asset, time.Now())
		if err != nil {
			s.logger.Warn("discovery-failed",
				zap.String("asset", asset), zap.Error(err))
		} else if info != nil {
			return info
		}

		discoveryRetriesTotal.WithLabelValues(asset).Inc()
		delay := discoveryRetryBaseDelay + time.Duration(attempt)*time.Second
		if delay > discoveryRetryMaxDelay {
			delay = discoveryRetryMaxDelay
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	s.logger.Warn("discovery-gave-up",
		zap.String("asset", asset), zap.Int("retries", maxDiscoveryRetries))
	return nil
}

// discoverSuccessor makes one attempt at finding the next window. Only
// a window newer than the current one qualifies.
func (s *Supervisor) discoverSuccessor(ctx context.Context, asset string, lastWindowStart int64) *types.MarketInfo {
	nextStart := lastWindowStart + discovery.WindowSeconds
	slug := s.cfg.Discovery.Slug(asset, nextStart)
	info, err := s.cfg.Discovery.FindMarketBySlug(ctx, slug, asset)
	if err != nil {
		s.logger.Warn("successor-discovery-failed",
			zap.String("slug", slug), zap.Error(err))
		return nil
	}
	if info != nil {
		return info
	}

	info, err = s.cfg.Discovery.FindActiveMarket(ctx, asset, time.Now())
	if err != nil || info == nil {
		return nil
	}
	if discovery.SlugTimestamp(info.MarketID) <= lastWindowStart {
		return nil
	}
	return info
}
