package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketscope/internal/cache"
	"marketscope/internal/metrics"
	"marketscope/internal/model"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	bars     map[model.Timeframe][]model.Bar
	barsErr  error
	quote    model.Quote
	quoteErr error
	calls    atomic.Int32
}

func (f *fakeSource) Bars(_ context.Context, _ string, tf model.Timeframe) ([]model.Bar, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars[tf], nil
}

func (f *fakeSource) Quote(_ context.Context, symbol string) (model.Quote, error) {
	if f.quoteErr != nil {
		return model.Quote{}, f.quoteErr
	}
	q := f.quote
	q.Symbol = symbol
	return q, nil
}

func barsFromCloses(tf model.Timeframe, closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			TS:     t0.Add(time.Duration(i) * tf.Spec().Interval),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

// uptrend grows 1% per bar, enough history for every indicator the rules read.
func uptrend(tf model.Timeframe) []model.Bar {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	return barsFromCloses(tf, closes)
}

func uptrendSource() *fakeSource {
	bars := make(map[model.Timeframe][]model.Bar)
	for _, tf := range model.AllTimeframes {
		bars[tf] = uptrend(tf)
	}
	return &fakeSource{bars: bars, quote: model.Quote{Price: 181, TS: t0}}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6f, want %.6f (±%.6f)", label, got, want, tol)
	}
}

func assertKind(t *testing.T, err error, want model.ErrorKind, op string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error", want)
	}
	if got := model.KindOf(err); got != want {
		t.Errorf("kind = %s, want %s (err: %v)", got, want, err)
	}
	var aerr *model.AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("error %T is not *AnalysisError", err)
	}
	if aerr.Op != op {
		t.Errorf("op = %q, want %q", aerr.Op, op)
	}
}

func TestIndicators(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	src := &fakeSource{bars: map[model.Timeframe][]model.Bar{model.TF1h: barsFromCloses(model.TF1h, closes)}}
	svc := New(src, Options{})

	snap, err := svc.Indicators(context.Background(), "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Indicators: %v", err)
	}
	if snap.Bars != 25 || snap.Symbol != "AAPL" || snap.Timeframe != model.TF1h {
		t.Errorf("header = %d %s %s", snap.Bars, snap.Symbol, snap.Timeframe)
	}
	if snap.SMA20 == nil {
		t.Fatal("sma_20 absent")
	}
	assertClose(t, "sma_20", *snap.SMA20, 114.5, 1e-9)
	if snap.SMA50 != nil {
		t.Errorf("sma_50 = %v, want absent", *snap.SMA50)
	}
}

func TestUpstreamFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("source error", func(t *testing.T) {
		svc := New(&fakeSource{barsErr: errors.New("connection reset")}, Options{})
		_, err := svc.Indicators(ctx, "AAPL", model.TF15m)
		assertKind(t, err, model.KindUpstreamFetch, OpIndicators)
		var aerr *model.AnalysisError
		if errors.As(err, &aerr) && (aerr.Symbol != "AAPL" || aerr.Timeframe != model.TF15m) {
			t.Errorf("context = %s/%s", aerr.Symbol, aerr.Timeframe)
		}
	})

	t.Run("empty bars", func(t *testing.T) {
		svc := New(&fakeSource{}, Options{})
		_, err := svc.Trend(ctx, "AAPL", model.TF1d)
		assertKind(t, err, model.KindUpstreamFetch, OpTrend)
	})

	t.Run("quote failure fails consensus", func(t *testing.T) {
		src := uptrendSource()
		src.quoteErr = errors.New("rate limited")
		_, err := New(src, Options{}).MultiTimeframe(ctx, "AAPL", nil)
		assertKind(t, err, model.KindUpstreamFetch, OpMultiTimeframe)
	})
}

func TestInvalidTimeframe(t *testing.T) {
	src := uptrendSource()
	svc := New(src, Options{})

	_, err := svc.Signal(context.Background(), "AAPL", model.Timeframe(42))
	assertKind(t, err, model.KindInvalidTimeframe, OpSignal)

	_, err = svc.MultiTimeframe(context.Background(), "AAPL", []model.Timeframe{model.TF1h, model.Timeframe(42)})
	assertKind(t, err, model.KindInvalidTimeframe, OpMultiTimeframe)

	if n := src.calls.Load(); n != 0 {
		t.Errorf("source called %d times for an invalid timeframe", n)
	}
}

func TestComputationError(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}
	bars := barsFromCloses(model.TF1h, closes)
	for i := range bars {
		bars[i].High, bars[i].Low = 100, 100
	}
	svc := New(&fakeSource{bars: map[model.Timeframe][]model.Bar{model.TF1h: bars}}, Options{})

	_, err := svc.Trend(context.Background(), "FLAT", model.TF1h)
	assertKind(t, err, model.KindComputation, OpTrend)
}

func TestSignal_UsesQuotePrice(t *testing.T) {
	svc := New(uptrendSource(), Options{})

	sig, err := svc.Signal(context.Background(), "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if !sig.Signal.IsBuy() {
		t.Errorf("signal = %s, want a buy", sig.Signal)
	}
	if sig.EntryPrice == nil || *sig.EntryPrice != 181 {
		t.Errorf("entry = %v, want quote price 181", sig.EntryPrice)
	}
	if sig.StopLoss == nil || *sig.StopLoss >= 181 {
		t.Errorf("stop loss = %v, want below entry", sig.StopLoss)
	}
}

func TestSignal_QuoteFallbackToLastClose(t *testing.T) {
	src := uptrendSource()
	src.quoteErr = errors.New("no 1m data")
	svc := New(src, Options{})

	sig, err := svc.Signal(context.Background(), "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Signal: %v", err)
	}
	bars := src.bars[model.TF1h]
	last := bars[len(bars)-1].Close
	if sig.EntryPrice == nil {
		t.Fatal("entry price absent")
	}
	assertClose(t, "entry", *sig.EntryPrice, last, 1e-9)
}

func TestMultiTimeframe(t *testing.T) {
	svc := New(uptrendSource(), Options{})

	view, err := svc.MultiTimeframe(context.Background(), "AAPL", nil)
	if err != nil {
		t.Fatalf("MultiTimeframe: %v", err)
	}
	if len(view.Analyses) != len(model.DefaultTimeframes) {
		t.Fatalf("analyses = %d, want %d", len(view.Analyses), len(model.DefaultTimeframes))
	}
	for i, tf := range model.DefaultTimeframes {
		if view.Timeframes[i] != tf {
			t.Errorf("timeframes[%d] = %s, want %s", i, view.Timeframes[i], tf)
		}
	}
	if view.OverallTrend != model.Bullish || view.ConsensusSignal != model.Buy {
		t.Errorf("consensus = %s/%s, want bullish/buy", view.OverallTrend, view.ConsensusSignal)
	}
	if view.CurrentPrice != 181 {
		t.Errorf("current price = %v, want quote 181", view.CurrentPrice)
	}
}

func TestMultiSignals_RequestOrder(t *testing.T) {
	svc := New(uptrendSource(), Options{})
	tfs := []model.Timeframe{model.TF1d, model.TF15m, model.TF1d, model.TF4h}

	sigs, err := svc.MultiSignals(context.Background(), "AAPL", tfs)
	if err != nil {
		t.Fatalf("MultiSignals: %v", err)
	}
	want := []model.Timeframe{model.TF1d, model.TF15m, model.TF4h}
	if len(sigs) != len(want) {
		t.Fatalf("signals = %d, want %d", len(sigs), len(want))
	}
	for i, tf := range want {
		if sigs[i].Timeframe != tf {
			t.Errorf("signals[%d].timeframe = %s, want %s", i, sigs[i].Timeframe, tf)
		}
	}
}

func TestMultiSignals_FirstErrorWins(t *testing.T) {
	src := uptrendSource()
	src.bars[model.TF4h] = nil
	_, err := New(src, Options{}).MultiSignals(context.Background(), "AAPL", nil)
	assertKind(t, err, model.KindUpstreamFetch, OpMultiSignals)
}

func TestResultCache(t *testing.T) {
	ctx := context.Background()
	src := uptrendSource()
	mem := cache.NewMemory(time.Minute)
	svc := New(src, Options{Cache: mem})

	first, err := svc.Trend(ctx, "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if n := mem.Len(); n != 2 {
		t.Errorf("cache entries = %d, want indicators + trend", n)
	}

	// A seeded entry for the same last bar is served without recomputing.
	bars := src.bars[model.TF1h]
	key := model.CacheKey{Kind: OpTrend, Symbol: "AAPL", Timeframe: model.TF1h, AsOf: bars[len(bars)-1].TS}
	seeded := first
	seeded.Strength = 12
	raw, _ := json.Marshal(seeded)
	mem.Set(ctx, key, raw)

	got, err := svc.Trend(ctx, "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if got.Strength != 12 {
		t.Errorf("strength = %v, want cached 12", got.Strength)
	}

	// An undecodable entry counts as a miss.
	mem.Set(ctx, key, []byte("{"))
	got, err = svc.Trend(ctx, "AAPL", model.TF1h)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if got.Strength != first.Strength {
		t.Errorf("strength = %v, want recomputed %v", got.Strength, first.Strength)
	}

	svc.Invalidate(ctx, "AAPL", model.TF1h)
	if n := mem.Len(); n != 0 {
		t.Errorf("entries after invalidate = %d, want 0", n)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	svc := New(&fakeSource{barsErr: errors.New("down")}, Options{Metrics: m, Health: health})

	_, _ = svc.Indicators(context.Background(), "AAPL", model.TF1h)

	if s, _ := health.Snapshot(); s != "unhealthy" {
		t.Errorf("health = %s, want unhealthy after upstream failure", s)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() != "marketscope_errors_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["op"] == OpIndicators && labels["kind"] == string(model.KindUpstreamFetch) {
				found = metric.GetCounter().GetValue() == 1
			}
		}
	}
	if !found {
		t.Error("errors_total{op=indicators,kind=upstream_fetch_failure} != 1")
	}
}

func TestHistory(t *testing.T) {
	src := uptrendSource()
	bars, err := New(src, Options{}).History(context.Background(), "AAPL", model.TF1d)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(bars) != 60 || !bars[0].TS.Equal(t0) {
		t.Errorf("bars = %d starting %v", len(bars), bars[0].TS)
	}

	_, err = New(&fakeSource{}, Options{}).History(context.Background(), "AAPL", model.TF1d)
	assertKind(t, err, model.KindUpstreamFetch, OpHistory)
}
