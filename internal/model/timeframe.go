package model

import (
	"fmt"
	"strconv"
	"time"
)

// Timeframe is one of the recognised bar resolutions. It is a closed set:
// every value below tfCount has an entry in timeframeTable.
type Timeframe uint8

const (
	TF1m Timeframe = iota
	TF5m
	TF15m
	TF30m
	TF45m
	TF1h
	TF4h
	TF1d
	TF1w
	TF1M
	tfCount

	// NoTimeframe marks a request that is not tied to a single timeframe.
	NoTimeframe Timeframe = 0xFF
)

// TimeframeSpec describes how a timeframe is sampled by the bar provider.
type TimeframeSpec struct {
	Label            string        // wire name, e.g. "15m"
	Interval         time.Duration // nominal bar duration
	ProviderInterval string        // provider sampling interval, e.g. "1h"
	Lookback         string        // provider history range, e.g. "1mo"
	History          time.Duration // Lookback as a duration, for local stores
}

// timeframeTable is indexed by Timeframe. Its length is fixed by tfCount,
// so adding a constant without a row fails to compile.
// The provider has no 45m or 4h interval: 45m uses 1h bars as is, 4h is
// aggregated from 1h bars by the fetcher.
var timeframeTable = [tfCount]TimeframeSpec{
	TF1m:  {Label: "1m", Interval: time.Minute, ProviderInterval: "1m", Lookback: "1d", History: 24 * time.Hour},
	TF5m:  {Label: "5m", Interval: 5 * time.Minute, ProviderInterval: "5m", Lookback: "5d", History: 5 * 24 * time.Hour},
	TF15m: {Label: "15m", Interval: 15 * time.Minute, ProviderInterval: "15m", Lookback: "5d", History: 5 * 24 * time.Hour},
	TF30m: {Label: "30m", Interval: 30 * time.Minute, ProviderInterval: "30m", Lookback: "1mo", History: 31 * 24 * time.Hour},
	TF45m: {Label: "45m", Interval: 45 * time.Minute, ProviderInterval: "1h", Lookback: "1mo", History: 31 * 24 * time.Hour},
	TF1h:  {Label: "1h", Interval: time.Hour, ProviderInterval: "1h", Lookback: "1mo", History: 31 * 24 * time.Hour},
	TF4h:  {Label: "4h", Interval: 4 * time.Hour, ProviderInterval: "1h", Lookback: "3mo", History: 92 * 24 * time.Hour},
	TF1d:  {Label: "1d", Interval: 24 * time.Hour, ProviderInterval: "1d", Lookback: "1y", History: 366 * 24 * time.Hour},
	TF1w:  {Label: "1w", Interval: 7 * 24 * time.Hour, ProviderInterval: "1wk", Lookback: "2y", History: 731 * 24 * time.Hour},
	TF1M:  {Label: "1M", Interval: 30 * 24 * time.Hour, ProviderInterval: "1mo", Lookback: "5y", History: 1827 * 24 * time.Hour},
}

// AllTimeframes lists every recognised timeframe from shortest to longest.
var AllTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF30m, TF45m, TF1h, TF4h, TF1d, TF1w, TF1M}

// DefaultTimeframes is the multi-timeframe set used when a caller supplies none.
var DefaultTimeframes = []Timeframe{TF15m, TF1h, TF4h, TF1d}

// ParseTimeframe maps a wire name ("15m", "1M", ...) to its Timeframe.
// Matching is case-sensitive: "1m" is one minute, "1M" is one month.
func ParseTimeframe(s string) (Timeframe, error) {
	for i := Timeframe(0); i < tfCount; i++ {
		if timeframeTable[i].Label == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
}

// ParseTimeframes parses a list of wire names, dropping duplicates while
// preserving first-seen order. An empty input yields DefaultTimeframes.
func ParseTimeframes(names []string) ([]Timeframe, error) {
	if len(names) == 0 {
		return append([]Timeframe(nil), DefaultTimeframes...), nil
	}
	tfs := make([]Timeframe, 0, len(names))
	for _, n := range names {
		tf, err := ParseTimeframe(n)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	return UniqueTimeframes(tfs), nil
}

// UniqueTimeframes removes repeated timeframes, keeping first occurrences.
func UniqueTimeframes(tfs []Timeframe) []Timeframe {
	seen := make(map[Timeframe]bool, len(tfs))
	out := make([]Timeframe, 0, len(tfs))
	for _, tf := range tfs {
		if seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out
}

// Valid reports whether tf is a recognised timeframe.
func (tf Timeframe) Valid() bool { return tf < tfCount }

// Spec returns the sampling spec for tf.
func (tf Timeframe) Spec() TimeframeSpec {
	if !tf.Valid() {
		return TimeframeSpec{}
	}
	return timeframeTable[tf]
}

func (tf Timeframe) String() string {
	if !tf.Valid() {
		return "Timeframe(" + strconv.Itoa(int(tf)) + ")"
	}
	return timeframeTable[tf].Label
}

// MarshalText encodes tf as its wire name; it also makes Timeframe usable as
// a JSON object key.
func (tf Timeframe) MarshalText() ([]byte, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimeframe, tf)
	}
	return []byte(timeframeTable[tf].Label), nil
}

// UnmarshalText decodes a wire name.
func (tf *Timeframe) UnmarshalText(b []byte) error {
	v, err := ParseTimeframe(string(b))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}
