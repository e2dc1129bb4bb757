package indicator

import (
	"math"
	"strconv"

	"marketscope/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// True range needs a previous close, so the first bar only seeds prevClose
// and the first ATR is the mean of the next period true ranges.
type ATR struct {
	period    int
	count     int // true ranges seen
	seeded    bool
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.period) }

func (a *ATR) Update(bar model.Bar) {
	if !a.seeded {
		a.prevClose = bar.Close
		a.seeded = true
		return
	}

	tr := TrueRange(bar, a.prevClose)
	a.prevClose = bar.Close
	a.count++

	if a.count <= a.period {
		a.sum += tr
		if a.count == a.period {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count >= a.period }

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(bar model.Bar, prevClose float64) float64 {
	return math.Max(bar.High-bar.Low,
		math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}
