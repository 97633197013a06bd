package types

import (
	"fmt"
	"time"
)

// TriggerRule selects how the first leg is detected.
type TriggerRule string

// ReferenceSource selects the per-side reference price.
type ReferenceSource string

// SamplingMode selects how measurement cycles are scheduled.
type SamplingMode string

const (
	TriggerAskTouch TriggerRule = "ASK_TOUCH"

	RefMidpoint  ReferenceSource = "MIDPOINT"
	RefLastTrade ReferenceSource = "LAST_TRADE"

	SamplingFixedInterval SamplingMode = "FIXED_INTERVAL"
	SamplingFixedCount    SamplingMode = "FIXED_COUNT"

	// TieBreakDistanceThenYes is the only tie-break rule: when both sides
	// trigger in one cycle, the side that touched harder is created first;
	// on equal distance YES wins.
	TieBreakDistanceThenYes = "distance_then_yes"
)

// ParameterSet is an immutable measurement configuration snapshot.
// Attempts denormalize S0/delta/stop-loss from it for analytics.
type ParameterSet struct {
	ID               int64
	Name             string
	S0Points         int
	DeltaPoints      int
	TriggerRule      TriggerRule
	ReferenceSource  ReferenceSource
	SamplingMode     SamplingMode
	CycleInterval    time.Duration
	CyclesPerMarket  int
	FeedGapThreshold time.Duration
	StopLossPoints   int // threshold in points; meaningful only if StopLossEnabled
	StopLossEnabled  bool
	CreatedAt        time.Time
}

// PairCapPoints is the maximum combined cost for a qualifying pair.
func (p *ParameterSet) PairCapPoints() int {
	return 100 - p.DeltaPoints
}

// Validate checks field ranges and mode-specific requirements.
func (p *ParameterSet) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter set name cannot be empty")
	}
	if p.S0Points < 1 || p.S0Points > 49 {
		return fmt.Errorf("S0_points must be in [1, 49], got %d", p.S0Points)
	}
	if p.DeltaPoints < 1 || p.DeltaPoints > 49 {
		return fmt.Errorf("delta_points must be in [1, 49], got %d", p.DeltaPoints)
	}
	if p.TriggerRule != TriggerAskTouch {
		return fmt.Errorf("unknown trigger_rule %q", p.TriggerRule)
	}
	if p.ReferenceSource != RefMidpoint && p.ReferenceSource != RefLastTrade {
		return fmt.Errorf("unknown reference_price_source %q", p.ReferenceSource)
	}
	switch p.SamplingMode {
	case SamplingFixedInterval:
		if p.CycleInterval <= 0 {
			return fmt.Errorf("cycle_interval_seconds must be > 0")
		}
	case SamplingFixedCount:
		if p.CyclesPerMarket <= 0 {
			return fmt.Errorf("cycles_per_market must be > 0")
		}
	default:
		return fmt.Errorf("unknown sampling_mode %q", p.SamplingMode)
	}
	if p.FeedGapThreshold <= 0 {
		return fmt.Errorf("feed_gap_threshold_seconds must be > 0")
	}
	if p.StopLossEnabled && p.StopLossPoints <= 0 {
		return fmt.Errorf("stop_loss_threshold_points must be > 0 when set")
	}
	return nil
}
