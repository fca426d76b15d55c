package utils

import "math"

// RelativeDifference returns |a-b| / max(|a|, |b|), or zero when both are zero.
func RelativeDifference(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}
