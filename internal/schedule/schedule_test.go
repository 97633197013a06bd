package schedule

import (
	"testing"
	"time"

	"github.com/mglvsky/pairscan/pkg/types"
)

func fixedIntervalSet(interval time.Duration) types.ParameterSet {
	return types.ParameterSet{
		Name:            "fixed-interval",
		S0Points:        5,
		DeltaPoints:     3,
		SamplingMode:    types.SamplingFixedInterval,
		CycleInterval:   interval,
		TriggerRule:     types.TriggerAskTouch,
		ReferenceSource: types.RefMidpoint,
	}
}

func TestFixedInterval_FirstCycleImmediate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(15 * time.Minute)

	plan, err := NewPlan(fixedIntervalSet(2*time.Second), now, settlement)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	c, skipped, ok := plan.Next(now)
	if !ok || skipped != 0 {
		t.Fatalf("Next: ok=%v skipped=%d", ok, skipped)
	}
	if c.Number != 1 {
		t.Errorf("first cycle number = %d, want 1", c.Number)
	}
	if !c.At.Equal(now) {
		t.Errorf("first cycle at %v, want %v", c.At, now)
	}

	c2, _, _ := plan.Next(now)
	if c2.Number != 2 || !c2.At.Equal(now.Add(2*time.Second)) {
		t.Errorf("second cycle = %+v", c2)
	}
}

func TestFixedInterval_StopsBeforeGrace(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(10 * time.Second)

	plan, _ := NewPlan(fixedIntervalSet(2*time.Second), now, settlement)

	var cycles []Cycle
	cur := now
	for {
		c, _, ok := plan.Next(cur)
		if !ok {
			break
		}
		cycles = append(cycles, c)
		cur = c.At
	}

	// Cycles at +0, +2, +4, +6, +8; settlement-grace is +8 so +10 is out.
	if len(cycles) != 5 {
		t.Fatalf("got %d cycles, want 5", len(cycles))
	}
	last := cycles[len(cycles)-1]
	if last.At.After(settlement.Add(-Grace)) {
		t.Errorf("last cycle %v past settlement grace", last.At)
	}
}

func TestFixedInterval_SkipsNotCoalesces(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(15 * time.Minute)

	plan, _ := NewPlan(fixedIntervalSet(2*time.Second), now, settlement)

	c, _, _ := plan.Next(now)
	if c.Number != 1 {
		t.Fatalf("first = %d", c.Number)
	}

	// The evaluator stalled for 7 seconds. Cycles 2 and 3 (planned at
	// +2s and +4s) are more than one interval late and are dropped;
	// cycle 4 (+6s) is still within its interval.
	late := now.Add(7 * time.Second)
	c, skipped, ok := plan.Next(late)
	if !ok {
		t.Fatal("schedule exhausted early")
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if c.Number != 4 {
		t.Errorf("resumed at cycle %d, want 4 (dense numbering)", c.Number)
	}
	if !c.At.Equal(now.Add(6 * time.Second)) {
		t.Errorf("cycle 4 at %v, want planned instant %v", c.At, now.Add(6*time.Second))
	}
}

func TestFixedCount_IntervalDividesRunway(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(300 * time.Second)

	set := fixedIntervalSet(0)
	set.SamplingMode = types.SamplingFixedCount
	set.CyclesPerMarket = 100

	plan, err := NewPlan(set, now, settlement)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Interval() != 3*time.Second {
		t.Errorf("interval = %v, want 3s", plan.Interval())
	}
}

func TestFixedCount_IntervalFloorsAtOneSecond(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(30 * time.Second)

	set := fixedIntervalSet(0)
	set.SamplingMode = types.SamplingFixedCount
	set.CyclesPerMarket = 500

	plan, err := NewPlan(set, now, settlement)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Interval() != time.Second {
		t.Errorf("interval = %v, want 1s floor", plan.Interval())
	}
}

// A late join with less than two intervals of runway still gets at least
// one cycle before settlement grace.
func TestLateJoinStillFiresOneCycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	settlement := now.Add(3 * time.Second) // < 2 * interval

	plan, _ := NewPlan(fixedIntervalSet(2*time.Second), now, settlement)

	c, _, ok := plan.Next(now)
	if !ok {
		t.Fatal("expected at least one cycle")
	}
	if c.Number != 1 || !c.At.Equal(now) {
		t.Errorf("cycle = %+v", c)
	}

	if _, _, ok := plan.Next(now.Add(2 * time.Second)); ok {
		t.Error("no further cycle should fit before grace")
	}
}

func TestUnknownSamplingMode(t *testing.T) {
	set := fixedIntervalSet(2 * time.Second)
	set.SamplingMode = "RANDOM"

	now := time.Unix(1700000000, 0)
	if _, err := NewPlan(set, now, now.Add(time.Minute)); err == nil {
		t.Error("expected error for unknown sampling mode")
	}
}
