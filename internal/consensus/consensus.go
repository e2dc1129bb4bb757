// Package consensus runs the trend analysis across several timeframes and
// reduces the results to one directional call by majority vote.
package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"marketscope/internal/model"
)

// TrendFunc computes the trend for one (symbol, timeframe).
type TrendFunc func(ctx context.Context, symbol string, tf model.Timeframe) (model.TrendAnalysis, error)

// Result pairs a timeframe with its trend.
type Result struct {
	Timeframe model.Timeframe
	Trend     model.TrendAnalysis
}

// Reduce builds the consensus view from per-timeframe results, keeping their
// order for the summary.
//
// More bullish than bearish readings makes the overall trend bullish, and the
// consensus signal is buy only when the bullish count is a strict majority of
// all results. Bearish mirrors it with sell. A tie, including all sideways,
// is sideways/neutral.
func Reduce(symbol string, price float64, now time.Time, results []Result) model.ConsensusView {
	view := model.ConsensusView{
		Symbol:          symbol,
		TS:              now,
		CurrentPrice:    price,
		Timeframes:      make([]model.Timeframe, 0, len(results)),
		Analyses:        make(map[model.Timeframe]model.TrendAnalysis, len(results)),
		OverallTrend:    model.Sideways,
		ConsensusSignal: model.Neutral,
	}

	var bullish, bearish int
	parts := make([]string, 0, len(results))
	for _, r := range results {
		view.Timeframes = append(view.Timeframes, r.Timeframe)
		view.Analyses[r.Timeframe] = r.Trend
		switch r.Trend.Direction {
		case model.Bullish:
			bullish++
		case model.Bearish:
			bearish++
		}
		parts = append(parts, fmt.Sprintf("%s: %s (%.0f%%)", r.Timeframe, r.Trend.Direction, r.Trend.Strength))
	}

	n := len(results)
	switch {
	case bullish > bearish:
		view.OverallTrend = model.Bullish
		if 2*bullish > n {
			view.ConsensusSignal = model.Buy
		}
	case bearish > bullish:
		view.OverallTrend = model.Bearish
		if 2*bearish > n {
			view.ConsensusSignal = model.Sell
		}
	}

	view.Summary = fmt.Sprintf("overall trend: %s. %s", view.OverallTrend, strings.Join(parts, ", "))
	return view
}

// Aggregator fans trend computations out across timeframes.
type Aggregator struct {
	trend TrendFunc
	now   func() time.Time
}

// NewAggregator creates an Aggregator that computes each timeframe with fn.
func NewAggregator(fn TrendFunc) *Aggregator {
	return &Aggregator{trend: fn, now: time.Now}
}

// Run computes the trend for every timeframe concurrently and waits for all
// of them before reducing. Duplicate timeframes are dropped keeping the first
// occurrence; an empty list means model.DefaultTimeframes. The first failure
// cancels the remaining computations and is returned as is.
func (a *Aggregator) Run(ctx context.Context, symbol string, price float64, tfs []model.Timeframe) (model.ConsensusView, error) {
	tfs = model.UniqueTimeframes(tfs)
	if len(tfs) == 0 {
		tfs = model.DefaultTimeframes
	}

	results := make([]Result, len(tfs))
	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range tfs {
		g.Go(func() error {
			tr, err := a.trend(gctx, symbol, tf)
			if err != nil {
				return err
			}
			results[i] = Result{Timeframe: tf, Trend: tr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.ConsensusView{}, err
	}
	return Reduce(symbol, price, a.now(), results), nil
}
