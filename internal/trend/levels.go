package trend

import (
	"sort"

	"github.com/shopspring/decimal"
)

// pivotSpan is how many neighbours on each side a pivot must strictly beat.
const pivotSpan = 2

// Levels scans closes for pivot lows below price (support) and pivot highs
// above price (resistance). A pivot must be strictly lower (or higher) than
// the two closes on each side. Levels are rounded to cents and deduplicated.
// Support is ordered nearest-first (descending), resistance nearest-first
// (ascending), and each list holds at most limit entries.
func Levels(closes []float64, price float64, limit int) (support, resistance []float64) {
	support, resistance = []float64{}, []float64{}
	seenS := make(map[string]bool)
	seenR := make(map[string]bool)

	for i := pivotSpan; i < len(closes)-pivotSpan; i++ {
		c := closes[i]
		low, high := true, true
		for j := 1; j <= pivotSpan; j++ {
			if !(c < closes[i-j] && c < closes[i+j]) {
				low = false
			}
			if !(c > closes[i-j] && c > closes[i+j]) {
				high = false
			}
		}
		switch {
		case low && c < price:
			support = addLevel(support, seenS, c, price, true)
		case high && c > price:
			resistance = addLevel(resistance, seenR, c, price, false)
		}
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(support)))
	sort.Float64s(resistance)
	if len(support) > limit {
		support = support[:limit]
	}
	if len(resistance) > limit {
		resistance = resistance[:limit]
	}
	return support, resistance
}

// addLevel rounds v to two decimals and appends it once. Rounding can carry a
// level onto or across price, which would break the below/above guarantee, so
// such levels are dropped.
func addLevel(levels []float64, seen map[string]bool, v, price float64, below bool) []float64 {
	d := decimal.NewFromFloat(v).Round(2)
	key := d.String()
	if seen[key] {
		return levels
	}
	r := d.InexactFloat64()
	if below && r >= price || !below && r <= price {
		return levels
	}
	seen[key] = true
	return append(levels, r)
}
