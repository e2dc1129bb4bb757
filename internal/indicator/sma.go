package indicator

import (
	"strconv"

	"marketscope/internal/model"
)

// SMA calculates Simple Moving Average of closes over a rolling window.
// Uses a preallocated circular buffer.
type SMA struct {
	period  int
	buf     []float64 // circular buffer of the last period closes
	idx     int       // next write position (== oldest value once full)
	count   int
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(bar model.Bar) {
	s.push(bar.Close)
}

// push adds a raw value; used directly by composite indicators.
func (s *SMA) push(v float64) {
	s.buf[s.idx] = v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		// Summed oldest→newest on every update so the mean carries no
		// drift from rolling subtraction.
		sum := 0.0
		for i := 0; i < s.period; i++ {
			sum += s.buf[(s.idx+i)%s.period]
		}
		s.current = sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// window returns the last period values oldest→newest. Only valid when Ready.
func (s *SMA) window() []float64 {
	out := make([]float64, s.period)
	for i := 0; i < s.period; i++ {
		out[i] = s.buf[(s.idx+i)%s.period]
	}
	return out
}
