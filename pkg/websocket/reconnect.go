package websocket

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// dialJitter is the maximum random fraction added to each redial delay
// so a fleet of sessions does not thunder back at once.
const dialJitter = 0.2

// retryPolicy produces the delay before redial attempt n (0-based):
// initial * mult^n, capped at max, plus up to dialJitter extra.
type retryPolicy struct {
	initial time.Duration
	max     time.Duration
	mult    float64
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.initial) * math.Pow(p.mult, float64(attempt))
	if ceil := float64(p.max); d > ceil {
		d = ceil
	}
	return time.Duration(d * (1 + rand.Float64()*dialJitter))
}

// redialer drives a dial function until it succeeds or the context
// ends. Each invocation starts a fresh backoff sequence.
type redialer struct {
	policy retryPolicy
	logger *zap.Logger
}

func newRedialer(policy retryPolicy, logger *zap.Logger) *redialer {
	if policy.initial <= 0 {
		policy.initial = time.Second
	}
	if policy.max <= 0 {
		policy.max = time.Minute
	}
	if policy.mult < 1 {
		policy.mult = 2
	}
	return &redialer{policy: policy, logger: logger}
}

func (r *redialer) run(ctx context.Context, dial func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		wait := r.policy.delay(attempt)
		r.logger.Info("redial-scheduled",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", wait))
		ReconnectAttemptsTotal.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err := dial(ctx); err != nil {
			r.logger.Warn("redial-failed", zap.Error(err))
			ReconnectFailuresTotal.Inc()
			continue
		}

		r.logger.Info("redial-succeeded", zap.Int("attempts", attempt+1))
		return nil
	}
}
