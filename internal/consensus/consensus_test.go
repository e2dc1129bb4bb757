package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketscope/internal/model"
)

var now = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

func result(tf model.Timeframe, dir model.Direction, strength float64) Result {
	return Result{Timeframe: tf, Trend: model.TrendAnalysis{Timeframe: tf, Direction: dir, Strength: strength}}
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantDir model.Direction
		wantSig model.SignalKind
	}{
		{
			name: "strict bullish majority",
			results: []Result{
				result(model.TF15m, model.Bullish, 70),
				result(model.TF1h, model.Bullish, 85),
				result(model.TF4h, model.Bullish, 70),
				result(model.TF1d, model.Sideways, 50),
			},
			wantDir: model.Bullish,
			wantSig: model.Buy,
		},
		{
			name: "bullish plurality without majority",
			results: []Result{
				result(model.TF15m, model.Bullish, 70),
				result(model.TF1h, model.Bullish, 70),
				result(model.TF4h, model.Sideways, 50),
				result(model.TF1d, model.Sideways, 50),
			},
			wantDir: model.Bullish,
			wantSig: model.Neutral,
		},
		{
			name: "bearish majority",
			results: []Result{
				result(model.TF15m, model.Bearish, 70),
				result(model.TF1h, model.Bearish, 70),
				result(model.TF4h, model.Bullish, 70),
			},
			wantDir: model.Bearish,
			wantSig: model.Sell,
		},
		{
			name: "two against two",
			results: []Result{
				result(model.TF15m, model.Bullish, 70),
				result(model.TF1h, model.Bearish, 70),
				result(model.TF4h, model.Bullish, 85),
				result(model.TF1d, model.Bearish, 95),
			},
			wantDir: model.Sideways,
			wantSig: model.Neutral,
		},
		{
			name: "all sideways",
			results: []Result{
				result(model.TF1h, model.Sideways, 50),
				result(model.TF1d, model.Sideways, 50),
			},
			wantDir: model.Sideways,
			wantSig: model.Neutral,
		},
		{
			name: "unknown does not vote",
			results: []Result{
				result(model.TF1h, model.Unknown, 0),
				result(model.TF1d, model.Bullish, 70),
			},
			wantDir: model.Bullish,
			wantSig: model.Neutral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Reduce("AAPL", 123.4, now, tt.results)
			if v.OverallTrend != tt.wantDir {
				t.Errorf("overall = %s, want %s", v.OverallTrend, tt.wantDir)
			}
			if v.ConsensusSignal != tt.wantSig {
				t.Errorf("consensus = %s, want %s", v.ConsensusSignal, tt.wantSig)
			}
			if len(v.Analyses) != len(tt.results) {
				t.Errorf("analyses has %d entries, want %d", len(v.Analyses), len(tt.results))
			}
		})
	}
}

func TestReduce_SummaryOrder(t *testing.T) {
	v := Reduce("AAPL", 100, now, []Result{
		result(model.TF1d, model.Bearish, 70),
		result(model.TF15m, model.Bullish, 85),
	})
	want := "overall trend: sideways. 1d: bearish (70%), 15m: bullish (85%)"
	if v.Summary != want {
		t.Errorf("summary:\n got  %q\n want %q", v.Summary, want)
	}
	if v.Timeframes[0] != model.TF1d || v.Timeframes[1] != model.TF15m {
		t.Errorf("timeframes = %v, want request order", v.Timeframes)
	}
}

func TestReduce_JSONMapKeys(t *testing.T) {
	v := Reduce("AAPL", 100, now, []Result{result(model.TF4h, model.Bullish, 70)})
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Analyses map[string]json.RawMessage `json:"analyses"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded.Analyses["4h"]; !ok {
		t.Errorf("analyses keys = %v, want 4h", decoded.Analyses)
	}
}

func TestAggregator_DefaultsAndDedup(t *testing.T) {
	var mu sync.Mutex
	var seen []model.Timeframe
	agg := NewAggregator(func(_ context.Context, _ string, tf model.Timeframe) (model.TrendAnalysis, error) {
		mu.Lock()
		seen = append(seen, tf)
		mu.Unlock()
		return model.TrendAnalysis{Timeframe: tf, Direction: model.Bullish, Strength: 70}, nil
	})
	agg.now = func() time.Time { return now }

	v, err := agg.Run(context.Background(), "AAPL", 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Timeframes) != len(model.DefaultTimeframes) {
		t.Fatalf("timeframes = %v, want defaults", v.Timeframes)
	}
	for i, tf := range model.DefaultTimeframes {
		if v.Timeframes[i] != tf {
			t.Errorf("timeframes[%d] = %s, want %s", i, v.Timeframes[i], tf)
		}
	}
	if !v.TS.Equal(now) {
		t.Errorf("TS = %v, want %v", v.TS, now)
	}

	seen = nil
	v, err = agg.Run(context.Background(), "AAPL", 100, []model.Timeframe{model.TF1h, model.TF1d, model.TF1h})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || len(v.Timeframes) != 2 {
		t.Errorf("computed %v, view %v; want two distinct timeframes", seen, v.Timeframes)
	}
	if v.ConsensusSignal != model.Buy {
		t.Errorf("consensus = %s, want buy", v.ConsensusSignal)
	}
}

func TestAggregator_FirstErrorCancelsSiblings(t *testing.T) {
	boom := errors.New("provider down")
	var cancelled atomic.Int32
	agg := NewAggregator(func(ctx context.Context, _ string, tf model.Timeframe) (model.TrendAnalysis, error) {
		if tf == model.TF1h {
			return model.TrendAnalysis{}, boom
		}
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return model.TrendAnalysis{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return model.TrendAnalysis{Direction: model.Sideways}, nil
		}
	})

	start := time.Now()
	_, err := agg.Run(context.Background(), "AAPL", 100, []model.Timeframe{model.TF15m, model.TF1h, model.TF1d})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("siblings were not cancelled")
	}
	if cancelled.Load() != 2 {
		t.Errorf("cancelled = %d, want 2", cancelled.Load())
	}
}
