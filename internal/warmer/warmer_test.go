package warmer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"marketscope/internal/model"
	"marketscope/internal/notification"
)

type recorder struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recorder) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

// scripted returns kinds[symbol] and fails for symbols not in the map.
type scripted struct {
	mu    sync.Mutex
	kinds map[string]model.SignalKind
	calls int
}

func (s *scripted) signal(_ context.Context, symbol string, tf model.Timeframe) (model.TradingSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	kind, ok := s.kinds[symbol]
	if !ok {
		return model.TradingSignal{}, errors.New("no data")
	}
	return model.TradingSignal{Symbol: symbol, Timeframe: tf, Signal: kind, Confidence: 90}, nil
}

func TestRunOnce(t *testing.T) {
	src := &scripted{kinds: map[string]model.SignalKind{"AAPL": model.StrongBuy, "MSFT": model.Neutral}}
	rec := &recorder{}
	w := New(context.Background(), src.signal, Config{
		Symbols:    []string{"AAPL", "MSFT", "BAD"},
		Timeframes: []model.Timeframe{model.TF1h, model.TF1d},
		Notifier:   rec,
	})

	if failed := w.RunOnce(context.Background()); failed != 2 {
		t.Errorf("failed = %d, want 2 (BAD on both timeframes)", failed)
	}
	if src.calls != 6 {
		t.Errorf("calls = %d, want 6", src.calls)
	}
	if len(rec.alerts) != 2 {
		t.Fatalf("alerts = %d, want AAPL on 1h and 1d", len(rec.alerts))
	}

	// Unchanged signals do not alert again.
	w.RunOnce(context.Background())
	if len(rec.alerts) != 2 {
		t.Errorf("alerts after repeat = %d, want 2", len(rec.alerts))
	}

	// A flip away and back alerts again.
	src.kinds["AAPL"] = model.Buy
	w.RunOnce(context.Background())
	src.kinds["AAPL"] = model.StrongBuy
	w.RunOnce(context.Background())
	if len(rec.alerts) != 4 {
		t.Errorf("alerts after flip = %d, want 4", len(rec.alerts))
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	src := &scripted{kinds: map[string]model.SignalKind{"AAPL": model.Buy}}
	w := New(context.Background(), src.signal, Config{Symbols: []string{"AAPL"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.RunOnce(ctx)
	if src.calls != 0 {
		t.Errorf("calls = %d, want 0 after cancel", src.calls)
	}
}

func TestRegister(t *testing.T) {
	w := New(context.Background(), (&scripted{}).signal, Config{})
	if len(w.timeframes) != len(model.DefaultTimeframes) {
		t.Errorf("timeframes = %v, want defaults", w.timeframes)
	}
	if err := w.Register("0 */5 * * * *"); err != nil {
		t.Errorf("Register: %v", err)
	}
	if err := w.Register("every five minutes"); err == nil {
		t.Error("expected invalid spec error")
	}
	if n := len(w.Cron.Entries()); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	w.Start()
	w.Stop()
}
