package fsrs

import (
	"math"
	"math/rand/v2"
)

type fuzzRange struct {
	start, end float64
	factor     float64
}

var fuzzRanges = []fuzzRange{
	{2.5, 7.0, 0.15},
	{7.0, 20.0, 0.10},
	{20.0, math.Inf(1), 0.05},
}

func fuzzDelta(interval float64) float64 {
	delta := 1.0
	for _, r := range fuzzRanges {
		delta += r.factor * math.Max(math.Min(interval, r.end)-r.start, 0)
	}
	return delta
}

// applyFuzz spreads review intervals to avoid clustering. Intervals under
// 2.5 days are returned unchanged. rng must be seeded from the review inputs
// so the same review always fuzzes the same way.
func applyFuzz(interval, maxIvl int, rng *rand.Rand) int {
	if float64(interval) < 2.5 {
		return interval
	}
	ivl := float64(interval)
	delta := fuzzDelta(ivl)

	lo := max(2, int(math.Round(ivl-delta)))
	hi := min(int(math.Round(ivl+delta)), maxIvl)
	lo = min(lo, hi)

	fuzzed := int(math.Floor(rng.Float64()*float64(hi-lo+1))) + lo
	return min(fuzzed, maxIvl)
}
