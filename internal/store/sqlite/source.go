package sqlite

import (
	"context"
	"log"
	"time"

	"marketscope/internal/model"
)

// maxStoredBars bounds how many stored bars a read returns.
const maxStoredBars = 1000

// Source is a model.BarSource backed by the bar store.
//
// The live source is always asked first and its bars are persisted, since
// the provider keeps rewriting the forming bar. When the live source fails
// and history exists, the stored bars are served instead and the failure is
// logged.
type Source struct {
	live    model.BarSource
	reader  *Reader
	persist func(ctx context.Context, b Batch) error
	now     func() time.Time
}

// NewSource wraps live with the store, persisting synchronously through w.
func NewSource(live model.BarSource, r *Reader, w *Writer) *Source {
	return &Source{
		live:   live,
		reader: r,
		persist: func(ctx context.Context, b Batch) error {
			return w.SaveBars(ctx, b.Symbol, b.Timeframe, b.Bars)
		},
		now: time.Now,
	}
}

// NewAsyncSource is like NewSource but hands fetched series to a Writer.Run
// loop through ch. A full channel drops the batch rather than block a request.
func NewAsyncSource(live model.BarSource, r *Reader, ch chan<- Batch) *Source {
	return &Source{
		live:   live,
		reader: r,
		persist: func(_ context.Context, b Batch) error {
			select {
			case ch <- b:
			default:
				log.Printf("[sqlite] persist queue full, dropping %s/%s", b.Symbol, b.Timeframe)
			}
			return nil
		},
		now: time.Now,
	}
}

func (s *Source) Bars(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	bars, liveErr := s.live.Bars(ctx, symbol, tf)
	if liveErr == nil && len(bars) > 0 {
		if err := s.persist(ctx, Batch{Symbol: symbol, Timeframe: tf, Bars: bars}); err != nil {
			log.Printf("[sqlite] persist %s/%s: %v", symbol, tf, err)
		}
		return bars, nil
	}

	last, err := s.reader.LastTimestamp(ctx, symbol, tf)
	if err != nil || last.IsZero() {
		return bars, liveErr
	}
	since := s.now().Add(-tf.Spec().History)
	stored, err := s.reader.Bars(ctx, symbol, tf, since, maxStoredBars)
	if err == nil && len(stored) > 0 {
		log.Printf("[sqlite] live fetch for %s/%s failed (%v), serving %d stored bars up to %s",
			symbol, tf, liveErr, len(stored), last.Format(time.RFC3339))
		return stored, nil
	}
	return bars, liveErr
}

// Quote is not stored; it always goes to the live source.
func (s *Source) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	return s.live.Quote(ctx, symbol)
}
