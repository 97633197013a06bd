// Package schedule plans evaluation cycles for one market. Cycle numbers
// are dense starting at 1; overrun cycles are dropped and counted, never
// coalesced, so the number space always maps to planned instants.
package schedule

import (
	"fmt"
	"time"

	"github.com/mglvsky/pairscan/pkg/types"
)

// Grace is how long before settlement the last cycle may fire.
const Grace = 2 * time.Second

// Cycle is one planned evaluation instant.
type Cycle struct {
	Number int
	At     time.Time
}

// Plan is the cycle schedule for one market and parameter set. Not safe
// for concurrent use; each monitor owns its plans exclusively.
type Plan struct {
	interval   time.Duration
	first      time.Time
	last       time.Time
	nextNumber int
}

// NewPlan builds a schedule from the sampling mode. For FIXED_INTERVAL
// the first cycle fires immediately (mid-window joins included) and then
// every interval until settlement minus grace. For FIXED_COUNT the
// interval divides the remaining runway into the configured number of
// cycles, floored at one second.
func NewPlan(set types.ParameterSet, now, settlementTime time.Time) (*Plan, error) {
	last := settlementTime.Add(-Grace)

	var interval time.Duration
	switch set.SamplingMode {
	case types.SamplingFixedInterval:
		interval = set.CycleInterval
	case types.SamplingFixedCount:
		runway := settlementTime.Sub(now)
		interval = runway / time.Duration(set.CyclesPerMarket)
		if interval < time.Second {
			interval = time.Second
		}
	default:
		return nil, fmt.Errorf("unknown sampling mode %q", set.SamplingMode)
	}

	if interval <= 0 {
		return nil, fmt.Errorf("non-positive cycle interval %v", interval)
	}

	return &Plan{
		interval:   interval,
		first:      now,
		last:       last,
		nextNumber: 1,
	}, nil
}

// Interval returns the planned spacing between cycles.
func (p *Plan) Interval() time.Duration {
	return p.interval
}

// Next returns the next cycle to execute given the current time. Cycles
// whose planned instant has passed by more than one full interval are
// skipped; their count is returned so the caller can record them as
// anomalies. ok is false once the schedule is exhausted.
func (p *Plan) Next(now time.Time) (c Cycle, skipped int, ok bool) {
	for {
		at := p.first.Add(time.Duration(p.nextNumber-1) * p.interval)
		if at.After(p.last) {
			return Cycle{}, skipped, false
		}
		if now.After(at.Add(p.interval)) {
			skipped++
			p.nextNumber++
			continue
		}

		c = Cycle{Number: p.nextNumber, At: at}
		p.nextNumber++
		return c, skipped, true
	}
}
