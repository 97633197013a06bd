// Package points implements the integer price model: 1 point = $0.01,
// prices live in [0, 100] points. Wire prices are decimal strings and are
// parsed exactly; no binary floating point ever touches a price.
package points

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxTrigger is the upper clamp for any trigger level.
const MaxTrigger = 99

var (
	// ErrMalformedPrice marks a wire price that is not an exact multiple
	// of $0.01. The evaluator skips the cycle on this error.
	ErrMalformedPrice = errors.New("malformed price")

	// ErrBadTick marks a non-positive tick size.
	ErrBadTick = errors.New("tick size must be positive")
)

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal price string ("0.45", "0.5300") to integer
// points (45, 53). The value must be an exact multiple of 0.01.
func Parse(s string) (int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, s)
	}

	pts := d.Mul(hundred)
	if !pts.IsInteger() {
		return 0, fmt.Errorf("%w: %q is not a multiple of 0.01", ErrMalformedPrice, s)
	}

	return int(pts.IntPart()), nil
}

// Format renders integer points back to a decimal price string
// (53 -> "0.53").
func Format(pts int) string {
	return decimal.NewFromInt(int64(pts)).Div(hundred).String()
}

// FloorToTick rounds a point value down to the nearest tick increment.
func FloorToTick(pts, tick int) (int, error) {
	if tick <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadTick, tick)
	}
	// Go integer division truncates toward zero; point values here are
	// non-negative so truncation is floor.
	return (pts / tick) * tick, nil
}

// ClampTrigger clamps a trigger level to the valid range [tick, 99].
func ClampTrigger(pts, tick int) int {
	if pts < tick {
		return tick
	}
	if pts > MaxTrigger {
		return MaxTrigger
	}
	return pts
}

// Midpoint returns the floored integer midpoint of bid and ask.
func Midpoint(bid, ask int) int {
	return (bid + ask) / 2
}
