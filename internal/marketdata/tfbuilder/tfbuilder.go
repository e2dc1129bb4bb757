// Package tfbuilder resamples bars into a coarser timeframe. It is used where
// the bar provider has no native interval for a timeframe (4h from 1h bars).
//
// Buckets are aligned to the Unix epoch: bucket = ts - ts%interval. A bucket's
// bar opens with its first input, closes with its last, and carries the
// high/low extremes and summed volume.
package tfbuilder

import (
	"time"

	"marketscope/internal/model"
)

// Builder incrementally folds ascending bars into interval buckets.
// It is not safe for concurrent use.
type Builder struct {
	secs    int64
	bucket  int64
	forming model.Bar
	started bool

	// OnStale, if set, is called for an input older than the forming bucket;
	// such inputs are dropped.
	OnStale func(model.Bar)
}

// New creates a Builder for the given bucket interval (whole seconds).
func New(interval time.Duration) *Builder {
	secs := int64(interval / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Builder{secs: secs}
}

// Add folds bar into the forming bucket. When bar starts a new bucket the
// previous one is returned as closed.
func (b *Builder) Add(bar model.Bar) (closed model.Bar, ok bool) {
	ts := bar.TS.Unix()
	bucket := ts - mod(ts, b.secs)

	switch {
	case !b.started:
		b.start(bucket, bar)
		return model.Bar{}, false

	case bucket < b.bucket:
		if b.OnStale != nil {
			b.OnStale(bar)
		}
		return model.Bar{}, false

	case bucket > b.bucket:
		closed = b.forming
		b.start(bucket, bar)
		return closed, true
	}

	if bar.High > b.forming.High {
		b.forming.High = bar.High
	}
	if bar.Low < b.forming.Low {
		b.forming.Low = bar.Low
	}
	b.forming.Close = bar.Close
	b.forming.Volume += bar.Volume
	return model.Bar{}, false
}

// Forming returns the bucket still being built.
func (b *Builder) Forming() (model.Bar, bool) {
	return b.forming, b.started
}

func (b *Builder) start(bucket int64, bar model.Bar) {
	b.bucket = bucket
	b.started = true
	b.forming = model.Bar{
		TS:     time.Unix(bucket, 0).UTC(),
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}
}

// Resample aggregates ascending bars into interval buckets. The last bucket
// is included even if incomplete, matching how providers report the
// current forming bar.
func Resample(bars []model.Bar, interval time.Duration) []model.Bar {
	if len(bars) == 0 {
		return nil
	}
	b := New(interval)
	var out []model.Bar
	for _, bar := range bars {
		if closed, ok := b.Add(bar); ok {
			out = append(out, closed)
		}
	}
	if last, ok := b.Forming(); ok {
		out = append(out, last)
	}
	return out
}

func mod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
