package indicator

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"marketscope/internal/model"
)

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestEngine_EmptyBars(t *testing.T) {
	e := NewEngine(SetAll)
	snap, err := e.Compute("AAPL", model.TF1h, nil)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if snap.Bars != 0 {
		t.Errorf("Bars=%d, want 0", snap.Bars)
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, name := range []string{"sma_20", "macd", "rsi", "stoch_k", "bb_upper", "atr", "obv", "vwap"} {
		v, ok := fields[name]
		if !ok {
			t.Errorf("field %s missing from JSON", name)
			continue
		}
		if v != nil {
			t.Errorf("field %s = %v, want null", name, v)
		}
	}
}

func TestEngine_SingleBar(t *testing.T) {
	e := NewEngine(SetAll)
	snap, err := e.Compute("AAPL", model.TF1d, barsFromCloses([]float64{101}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SMA20 != nil || snap.RSI != nil || snap.ATR != nil || snap.MACD != nil {
		t.Error("warm-up indicators should be absent after one bar")
	}
	if snap.OBV == nil || *snap.OBV != 0 {
		t.Errorf("OBV after one bar = %v, want 0", snap.OBV)
	}
	if snap.VWAP == nil {
		t.Fatal("VWAP should be present with traded volume")
	}
	assertClose(t, "VWAP", *snap.VWAP, 101, 1e-9)
	if !snap.AsOf.Equal(t0) {
		t.Errorf("AsOf=%v, want %v", snap.AsOf, t0)
	}
}

func TestEngine_WarmUpBoundaries(t *testing.T) {
	e := NewEngine(SetAll)
	closes := risingCloses(60, 100, 1)

	cases := []struct {
		name  string
		first int // first bar count at which the field is present
		get   func(model.IndicatorSnapshot) *float64
	}{
		{"sma_20", 20, func(s model.IndicatorSnapshot) *float64 { return s.SMA20 }},
		{"sma_50", 50, func(s model.IndicatorSnapshot) *float64 { return s.SMA50 }},
		{"ema_12", 12, func(s model.IndicatorSnapshot) *float64 { return s.EMA12 }},
		{"ema_26", 26, func(s model.IndicatorSnapshot) *float64 { return s.EMA26 }},
		{"macd", 34, func(s model.IndicatorSnapshot) *float64 { return s.MACD }},
		{"macd_signal", 34, func(s model.IndicatorSnapshot) *float64 { return s.MACDSignal }},
		{"rsi", 15, func(s model.IndicatorSnapshot) *float64 { return s.RSI }},
		{"stoch_k", 14, func(s model.IndicatorSnapshot) *float64 { return s.StochK }},
		{"stoch_d", 16, func(s model.IndicatorSnapshot) *float64 { return s.StochD }},
		{"bb_middle", 20, func(s model.IndicatorSnapshot) *float64 { return s.BBMiddle }},
		{"atr", 15, func(s model.IndicatorSnapshot) *float64 { return s.ATR }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := e.Compute("X", model.TF1h, barsFromCloses(closes[:tc.first-1]))
			if err != nil {
				t.Fatalf("n=%d: %v", tc.first-1, err)
			}
			if tc.get(before) != nil {
				t.Errorf("present at %d bars, want absent", tc.first-1)
			}
			at, err := e.Compute("X", model.TF1h, barsFromCloses(closes[:tc.first]))
			if err != nil {
				t.Fatalf("n=%d: %v", tc.first, err)
			}
			if tc.get(at) == nil {
				t.Errorf("absent at %d bars, want present", tc.first)
			}
		})
	}
}

func TestEngine_RisingScenario(t *testing.T) {
	// 25 hourly bars closing 100..124.
	e := NewEngine(SetAll)
	snap, err := e.Compute("AAPL", model.TF1h, barsFromCloses(risingCloses(25, 100, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SMA20 == nil {
		t.Fatal("sma_20 absent")
	}
	assertClose(t, "sma_20", *snap.SMA20, 114.5, 1e-9)
	if snap.RSI == nil || *snap.RSI != 100 {
		t.Errorf("rsi = %v, want 100", snap.RSI)
	}
	if snap.SMA50 != nil {
		t.Error("sma_50 should be absent with 25 bars")
	}
	if snap.Bars != 25 {
		t.Errorf("Bars=%d, want 25", snap.Bars)
	}
}

func TestEngine_AcceleratingUptrendMACD(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	snap, err := NewEngine(SetAll).Compute("AAPL", model.TF1h, barsFromCloses(closes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MACD == nil || snap.MACDSignal == nil || snap.MACDHistogram == nil {
		t.Fatal("MACD fields should be present at 60 bars")
	}
	if !(*snap.MACD > *snap.MACDSignal) {
		t.Errorf("macd %.6f should exceed signal %.6f", *snap.MACD, *snap.MACDSignal)
	}
	assertClose(t, "histogram", *snap.MACDHistogram, *snap.MACD-*snap.MACDSignal, 1e-12)
	if !(*snap.BBLower <= *snap.BBMiddle && *snap.BBMiddle <= *snap.BBUpper) {
		t.Error("bollinger bands out of order")
	}
}

func TestEngine_FlatSeriesStochasticFails(t *testing.T) {
	closes := make([]model.Bar, 20)
	for i := range closes {
		closes[i] = model.Bar{TS: t0, Open: 50, High: 50, Low: 50, Close: 50, Volume: 10}
	}
	_, err := NewEngine(SetAll).Compute("FLAT", model.TF1d, closes)
	if !errors.Is(err, model.ErrComputation) {
		t.Fatalf("expected ErrComputation, got %v", err)
	}

	// Without the Stochastic family the same series is fine.
	snap, err := NewEngine(SetAll&^SetStochastic).Compute("FLAT", model.TF1d, closes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RSI == nil || *snap.RSI != 100 {
		t.Errorf("flat series rsi = %v, want 100 (no losses)", snap.RSI)
	}
}

func TestEngine_NonFiniteInput(t *testing.T) {
	bars := barsFromCloses(risingCloses(25, 100, 1))
	bars[24].Close = math.Inf(1)
	bars[24].High = math.Inf(1)
	_, err := NewEngine(SetSMA).Compute("BAD", model.TF1h, bars)
	if !errors.Is(err, model.ErrComputation) {
		t.Fatalf("expected ErrComputation, got %v", err)
	}
}

func TestEngine_SubsetLeavesOthersAbsent(t *testing.T) {
	snap, err := NewEngine(SetRSI).Compute("AAPL", model.TF1h, barsFromCloses(risingCloses(30, 100, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.RSI == nil {
		t.Error("rsi should be present")
	}
	if snap.SMA20 != nil || snap.OBV != nil || snap.VWAP != nil {
		t.Error("unselected families should be absent")
	}
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		in   string
		want Set
	}{
		{"", SetAll},
		{"sma", SetSMA},
		{"SMA, rsi ,bbands", SetSMA | SetRSI | SetBollinger},
		{"bogus", SetAll},
		{"macd,bogus", SetMACD},
	}
	for _, tt := range tests {
		if got := ParseSet(tt.in); got != tt.want {
			t.Errorf("ParseSet(%q) = %b, want %b", tt.in, got, tt.want)
		}
	}
}
