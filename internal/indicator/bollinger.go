package indicator

import (
	"math"

	"marketscope/internal/model"
)

// Bollinger computes middle = SMA(period) and upper/lower = middle ± mult·σ,
// where σ is the population standard deviation of the same closes.
type Bollinger struct {
	mult   float64
	sma    *SMA
	stddev float64
}

// NewBollinger creates Bollinger Bands, typically (20, 2).
func NewBollinger(period int, mult float64) *Bollinger {
	return &Bollinger{mult: mult, sma: NewSMA(period)}
}

func (b *Bollinger) Name() string { return "BBANDS" }

func (b *Bollinger) Update(bar model.Bar) {
	b.sma.Update(bar)
	if !b.sma.Ready() {
		return
	}
	mean := b.sma.Value()
	ss := 0.0
	for _, v := range b.sma.window() {
		d := v - mean
		ss += d * d
	}
	b.stddev = math.Sqrt(ss / float64(b.sma.period))
}

// Value returns the middle band.
func (b *Bollinger) Value() float64 { return b.sma.Value() }
func (b *Bollinger) Upper() float64 { return b.sma.Value() + b.mult*b.stddev }
func (b *Bollinger) Lower() float64 { return b.sma.Value() - b.mult*b.stddev }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }
