// Package indicator provides technical indicator calculations over bar data.
//
// Every indicator implements the Indicator interface: bars are fed in
// ascending order through Update and the latest value is read with Value once
// Ready reports that the warm-up window is satisfied. Engine drives a fixed
// set of indicators over a bar sequence and produces a model.IndicatorSnapshot.
package indicator

import "marketscope/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "RSI_14").
	Name() string

	// Update feeds the next bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not Ready.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// faulty is implemented by indicators whose latest value can be undefined
// even after warm-up (e.g. a zero high-low range in Stochastic).
type faulty interface {
	Err() error
}
