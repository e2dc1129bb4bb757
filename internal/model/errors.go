package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure surfaced by the analysis pipeline wraps
// exactly one of these sentinels so callers can branch with errors.Is.
var (
	// ErrInsufficientData means there are fewer bars than a computation needs.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUpstreamFetch means the bar source errored or returned nothing.
	ErrUpstreamFetch = errors.New("upstream fetch failure")

	// ErrComputation means a numeric step produced an undefined result.
	ErrComputation = errors.New("computation error")

	// ErrInvalidTimeframe means a timeframe name is not in the recognised set.
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)

// ErrorKind is the coarse classification used by transports.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindInsufficientData ErrorKind = "insufficient_data"
	KindUpstreamFetch    ErrorKind = "upstream_fetch_failure"
	KindComputation      ErrorKind = "computation_error"
	KindInvalidTimeframe ErrorKind = "invalid_timeframe"
	KindInternal         ErrorKind = "internal"
)

// AnalysisError attaches request context to a pipeline failure.
type AnalysisError struct {
	Op        string // "indicators", "trend", "signal", "multi_timeframe"
	Symbol    string
	Timeframe Timeframe // NoTimeframe for symbol-level requests
	Err       error
}

func (e *AnalysisError) Error() string {
	if !e.Timeframe.Valid() {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Symbol, e.Timeframe, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// KindOf classifies err into an ErrorKind. nil maps to KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidTimeframe):
		return KindInvalidTimeframe
	case errors.Is(err, ErrUpstreamFetch):
		return KindUpstreamFetch
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrComputation):
		return KindComputation
	default:
		return KindInternal
	}
}
