package indicator

import (
	"fmt"

	"marketscope/internal/model"
)

// Stochastic computes the fast oscillator
// %K = 100*(close − lowest low)/(highest high − lowest low) over kPeriod bars
// and %D = SMA(dPeriod) of %K.
// A window whose high equals its low leaves %K undefined; Err reports it when
// that affects the current %K or %D.
type Stochastic struct {
	kPeriod int
	dPeriod int

	highs []float64 // circular, kPeriod
	lows  []float64
	idx   int
	count int

	k      float64
	kValid []bool // last dPeriod %K validity, circular
	kIdx   int
	d      *SMA
}

// NewStochastic creates a Stochastic(kPeriod, dPeriod), typically (14, 3).
func NewStochastic(kPeriod, dPeriod int) *Stochastic {
	return &Stochastic{
		kPeriod: kPeriod,
		dPeriod: dPeriod,
		highs:   make([]float64, kPeriod),
		lows:    make([]float64, kPeriod),
		kValid:  make([]bool, dPeriod),
		d:       NewSMA(dPeriod),
	}
}

func (s *Stochastic) Name() string { return "STOCH" }

func (s *Stochastic) Update(bar model.Bar) {
	s.highs[s.idx] = bar.High
	s.lows[s.idx] = bar.Low
	s.idx = (s.idx + 1) % s.kPeriod
	s.count++
	if s.count < s.kPeriod {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.kPeriod; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	valid := hh != ll
	s.k = 0
	if valid {
		s.k = 100 * (bar.Close - ll) / (hh - ll)
	}
	s.kValid[s.kIdx] = valid
	s.kIdx = (s.kIdx + 1) % s.dPeriod
	s.d.push(s.k)
}

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.k }

// D returns %D.
func (s *Stochastic) D() float64 { return s.d.Value() }

// Ready reports whether %K is defined by warm-up.
func (s *Stochastic) Ready() bool { return s.count >= s.kPeriod }

// DReady reports whether %D is defined by warm-up.
func (s *Stochastic) DReady() bool { return s.d.Ready() }

// Err returns model.ErrComputation when the latest %K, or any %K inside the
// current %D window, came from a zero high-low range.
func (s *Stochastic) Err() error {
	if !s.Ready() {
		return nil
	}
	last := (s.kIdx - 1 + s.dPeriod) % s.dPeriod
	if !s.kValid[last] {
		return fmt.Errorf("%w: stochastic %%K over zero high-low range", model.ErrComputation)
	}
	if s.DReady() {
		for _, ok := range s.kValid {
			if !ok {
				return fmt.Errorf("%w: stochastic %%D window contains undefined %%K", model.ErrComputation)
			}
		}
	}
	return nil
}
