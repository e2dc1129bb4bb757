// Package pipeline serves analysis requests: it fetches bars from a
// model.BarSource and runs them through the indicator engine, the trend
// analyzer, the signal generator and the multi-timeframe aggregator.
//
// Every returned error is a *model.AnalysisError wrapping one of the model
// sentinels, so transports can classify failures with model.KindOf.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"marketscope/internal/consensus"
	"marketscope/internal/indicator"
	"marketscope/internal/logger"
	"marketscope/internal/metrics"
	"marketscope/internal/model"
	"marketscope/internal/signal"
	"marketscope/internal/trend"
)

// Operation names, used in errors, metrics and cache keys.
const (
	OpIndicators     = "indicators"
	OpTrend          = "trend"
	OpSignal         = "signal"
	OpMultiTimeframe = "multi_timeframe"
	OpMultiSignals   = "multi_signals"
	OpQuote          = "quote"
	OpHistory        = "history"
)

// Options configures optional collaborators. The zero value is valid.
type Options struct {
	Cache   model.ResultCache     // nil disables result caching
	Metrics *metrics.Metrics      // nil disables instrumentation
	Health  *metrics.HealthStatus // nil disables upstream health tracking
	Set     indicator.Set         // zero means every indicator family
}

// Service runs the analysis pipeline. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	source    model.BarSource
	engine    *indicator.Engine
	analyzer  *trend.Analyzer
	generator *signal.Generator
	agg       *consensus.Aggregator

	cache   model.ResultCache
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	now     func() time.Time
}

// New creates a Service reading bars from source.
func New(source model.BarSource, opts Options) *Service {
	s := &Service{
		source:    source,
		engine:    indicator.NewEngine(opts.Set),
		analyzer:  trend.NewAnalyzer(),
		generator: signal.NewGenerator(),
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		health:    opts.Health,
		now:       time.Now,
	}
	s.agg = consensus.NewAggregator(s.Trend)
	return s
}

// analysis is everything computed for one (symbol, timeframe).
type analysis struct {
	bars  []model.Bar
	snap  model.IndicatorSnapshot
	trend model.TrendAnalysis
}

// Indicators returns the indicator snapshot for (symbol, tf).
func (s *Service) Indicators(ctx context.Context, symbol string, tf model.Timeframe) (model.IndicatorSnapshot, error) {
	s.count(OpIndicators)
	bars, err := s.fetch(ctx, symbol, tf)
	if err != nil {
		return model.IndicatorSnapshot{}, s.fail(ctx, OpIndicators, symbol, tf, err)
	}
	snap, err := s.snapshot(ctx, symbol, tf, bars)
	if err != nil {
		return snap, s.fail(ctx, OpIndicators, symbol, tf, err)
	}
	return snap, nil
}

// Trend returns the trend analysis for (symbol, tf).
func (s *Service) Trend(ctx context.Context, symbol string, tf model.Timeframe) (model.TrendAnalysis, error) {
	s.count(OpTrend)
	a, err := s.analyze(ctx, symbol, tf)
	if err != nil {
		return model.TrendAnalysis{}, s.fail(ctx, OpTrend, symbol, tf, err)
	}
	return a.trend, nil
}

// Signal returns a trading signal for (symbol, tf). The entry price is the
// live quote; if the quote is unavailable the last close is used.
func (s *Service) Signal(ctx context.Context, symbol string, tf model.Timeframe) (model.TradingSignal, error) {
	s.count(OpSignal)
	sig, err := s.signal(ctx, symbol, tf)
	if err != nil {
		return model.TradingSignal{}, s.fail(ctx, OpSignal, symbol, tf, err)
	}
	return sig, nil
}

func (s *Service) signal(ctx context.Context, symbol string, tf model.Timeframe) (model.TradingSignal, error) {
	a, err := s.analyze(ctx, symbol, tf)
	if err != nil {
		return model.TradingSignal{}, err
	}

	price := a.bars[len(a.bars)-1].Close
	if q, err := s.quote(ctx, symbol); err == nil && q.Price > 0 {
		price = q.Price
	} else if err != nil {
		slog.Warn("quote unavailable, using last close",
			append([]any{"symbol", symbol, "error", err}, logger.LogWithTrace(ctx)...)...)
	}

	start := time.Now()
	sig, err := s.generator.Generate(symbol, a.snap, a.trend, price, s.now())
	s.observe("signal", start)
	if err != nil {
		return model.TradingSignal{}, err
	}
	if s.metrics != nil {
		s.metrics.SignalsTotal.WithLabelValues(string(sig.Signal)).Inc()
	}
	return sig, nil
}

// MultiTimeframe computes the trend on every timeframe concurrently and
// reduces them to a consensus. Duplicates are dropped; an empty list means
// model.DefaultTimeframes.
func (s *Service) MultiTimeframe(ctx context.Context, symbol string, tfs []model.Timeframe) (model.ConsensusView, error) {
	s.count(OpMultiTimeframe)
	for _, tf := range tfs {
		if !tf.Valid() {
			return model.ConsensusView{}, s.fail(ctx, OpMultiTimeframe, symbol, tf, fmt.Errorf("%w: %d", model.ErrInvalidTimeframe, tf))
		}
	}

	q, err := s.quote(ctx, symbol)
	if err != nil {
		return model.ConsensusView{}, s.fail(ctx, OpMultiTimeframe, symbol, model.NoTimeframe, err)
	}

	start := time.Now()
	view, err := s.agg.Run(ctx, symbol, q.Price, tfs)
	s.observe("consensus", start)
	if err != nil {
		// Trend already wrapped it with the failing timeframe.
		s.countError(OpMultiTimeframe, err)
		return model.ConsensusView{}, err
	}
	return view, nil
}

// MultiSignals returns one signal per timeframe in request order.
func (s *Service) MultiSignals(ctx context.Context, symbol string, tfs []model.Timeframe) ([]model.TradingSignal, error) {
	s.count(OpMultiSignals)
	tfs = model.UniqueTimeframes(tfs)
	if len(tfs) == 0 {
		tfs = model.DefaultTimeframes
	}

	out := make([]model.TradingSignal, len(tfs))
	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range tfs {
		g.Go(func() error {
			sig, err := s.signal(gctx, symbol, tf)
			if err != nil {
				return &model.AnalysisError{Op: OpMultiSignals, Symbol: symbol, Timeframe: tf, Err: err}
			}
			out[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.countError(OpMultiSignals, err)
		return nil, err
	}
	return out, nil
}

// History returns the bars the analyses for (symbol, tf) are computed from.
func (s *Service) History(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	s.count(OpHistory)
	bars, err := s.fetch(ctx, symbol, tf)
	if err != nil {
		return nil, s.fail(ctx, OpHistory, symbol, tf, err)
	}
	return bars, nil
}

// Quote returns the latest quote for symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	s.count(OpQuote)
	q, err := s.quote(ctx, symbol)
	if err != nil {
		return model.Quote{}, s.fail(ctx, OpQuote, symbol, model.NoTimeframe, err)
	}
	return q, nil
}

func (s *Service) quote(ctx context.Context, symbol string) (model.Quote, error) {
	start := time.Now()
	q, err := s.source.Quote(ctx, symbol)
	s.observe("fetch", start)
	s.recordUpstream(err)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: quote %s: %w", model.ErrUpstreamFetch, symbol, err)
	}
	return q, nil
}

// fetch loads bars and maps every source failure, including an empty result,
// to model.ErrUpstreamFetch.
func (s *Service) fetch(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidTimeframe, tf)
	}
	start := time.Now()
	bars, err := s.source.Bars(ctx, symbol, tf)
	s.observe("fetch", start)
	s.recordUpstream(err)
	if err != nil {
		return nil, fmt.Errorf("%w: bars %s/%s: %w", model.ErrUpstreamFetch, symbol, tf, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s/%s", model.ErrUpstreamFetch, symbol, tf)
	}
	return bars, nil
}

func (s *Service) analyze(ctx context.Context, symbol string, tf model.Timeframe) (analysis, error) {
	bars, err := s.fetch(ctx, symbol, tf)
	if err != nil {
		return analysis{}, err
	}
	snap, err := s.snapshot(ctx, symbol, tf, bars)
	if err != nil {
		return analysis{}, err
	}
	tr, err := cached(ctx, s, s.key(OpTrend, symbol, tf, bars), func() (model.TrendAnalysis, error) {
		start := time.Now()
		defer s.observe("trend", start)
		return s.analyzer.Analyze(snap, bars), nil
	})
	if err != nil {
		return analysis{}, err
	}
	return analysis{bars: bars, snap: snap, trend: tr}, nil
}

func (s *Service) snapshot(ctx context.Context, symbol string, tf model.Timeframe, bars []model.Bar) (model.IndicatorSnapshot, error) {
	return cached(ctx, s, s.key(OpIndicators, symbol, tf, bars), func() (model.IndicatorSnapshot, error) {
		start := time.Now()
		defer s.observe("indicators", start)
		return s.engine.Compute(symbol, tf, bars)
	})
}

func (s *Service) key(kind, symbol string, tf model.Timeframe, bars []model.Bar) model.CacheKey {
	return model.CacheKey{Kind: kind, Symbol: symbol, Timeframe: tf, AsOf: bars[len(bars)-1].TS}
}

// cached returns the value stored under key, or computes and stores it.
// Undecodable entries count as misses; failed computations are not stored.
func cached[T any](ctx context.Context, s *Service, key model.CacheKey, compute func() (T, error)) (T, error) {
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, key); ok {
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				s.cacheLookup("hit")
				return v, nil
			}
		}
		s.cacheLookup("miss")
	}

	v, err := compute()
	if err != nil {
		return v, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(v); err == nil {
			s.cache.Set(ctx, key, raw)
		}
	}
	return v, nil
}

// Invalidate drops cached results for (symbol, tf).
func (s *Service) Invalidate(ctx context.Context, symbol string, tf model.Timeframe) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, symbol, tf)
	}
}

func (s *Service) fail(ctx context.Context, op, symbol string, tf model.Timeframe, err error) error {
	aerr := &model.AnalysisError{Op: op, Symbol: symbol, Timeframe: tf, Err: err}
	s.countError(op, err)
	attrs := []any{"op", op, "symbol", symbol, "kind", string(model.KindOf(err)), "error", err}
	if tf.Valid() {
		attrs = append(attrs, "timeframe", tf.String())
	}
	slog.Warn("analysis failed", append(attrs, logger.LogWithTrace(ctx)...)...)
	return aerr
}

func (s *Service) count(op string) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(op).Inc()
	}
}

func (s *Service) countError(op string, err error) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(op, string(model.KindOf(err))).Inc()
	}
}

func (s *Service) cacheLookup(result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (s *Service) observe(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveStage(stage, start)
	}
}

func (s *Service) recordUpstream(err error) {
	if s.health != nil {
		s.health.RecordUpstream(err)
	}
}
