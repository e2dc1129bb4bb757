// Package warmer periodically recomputes signals for a watchlist so the
// result cache stays hot, and alerts on strong signals.
package warmer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"marketscope/internal/metrics"
	"marketscope/internal/model"
	"marketscope/internal/notification"
)

// SignalFunc computes the signal for one (symbol, timeframe).
type SignalFunc func(ctx context.Context, symbol string, tf model.Timeframe) (model.TradingSignal, error)

// Warmer runs the watchlist job on a cron schedule.
type Warmer struct {
	Cron       *cron.Cron
	signal     SignalFunc
	notifier   notification.Notifier
	metrics    *metrics.Metrics
	symbols    []string
	timeframes []model.Timeframe
	ctx        context.Context

	mu   sync.Mutex
	last map[string]model.SignalKind // "symbol:tf" → last alerted kind
}

// Config configures a Warmer.
type Config struct {
	Symbols    []string
	Timeframes []model.Timeframe // empty means model.DefaultTimeframes
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
}

// New creates a Warmer. Jobs run with ctx and stop early once it is done.
func New(ctx context.Context, fn SignalFunc, cfg Config) *Warmer {
	tfs := model.UniqueTimeframes(cfg.Timeframes)
	if len(tfs) == 0 {
		tfs = model.DefaultTimeframes
	}
	return &Warmer{
		Cron:       cron.New(cron.WithSeconds()),
		signal:     fn,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		symbols:    cfg.Symbols,
		timeframes: tfs,
		ctx:        ctx,
		last:       make(map[string]model.SignalKind),
	}
}

// Register schedules the job with a six-field cron spec (seconds first).
func (w *Warmer) Register(spec string) error {
	if _, err := w.Cron.AddFunc(spec, func() { w.RunOnce(w.ctx) }); err != nil {
		return fmt.Errorf("register warm job: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (w *Warmer) Start() {
	w.Cron.Start()
	log.Printf("[warmer] started: %d symbols x %d timeframes", len(w.symbols), len(w.timeframes))
}

// Stop stops the scheduler and waits for a running job to finish.
func (w *Warmer) Stop() {
	<-w.Cron.Stop().Done()
	log.Println("[warmer] stopped")
}

// RunOnce computes every (symbol, timeframe) of the watchlist and returns
// the number of failures. A strong signal is sent to the notifier once, and
// again only after the signal for that pair has changed.
func (w *Warmer) RunOnce(ctx context.Context) int {
	failed := 0
	for _, symbol := range w.symbols {
		for _, tf := range w.timeframes {
			if ctx.Err() != nil {
				return failed
			}
			sig, err := w.signal(ctx, symbol, tf)
			if err != nil {
				failed++
				w.count("error")
				log.Printf("[warmer] %s/%s: %v", symbol, tf, err)
				continue
			}
			w.count("ok")
			w.maybeAlert(ctx, sig)
		}
	}
	return failed
}

func (w *Warmer) maybeAlert(ctx context.Context, sig model.TradingSignal) {
	key := sig.Symbol + ":" + sig.Timeframe.String()
	w.mu.Lock()
	prev := w.last[key]
	w.last[key] = sig.Signal
	w.mu.Unlock()

	if w.notifier == nil || prev == sig.Signal {
		return
	}
	alert, ok := notification.SignalAlert(sig)
	if !ok {
		return
	}
	if err := w.notifier.Send(ctx, alert); err != nil {
		log.Printf("[warmer] alert for %s failed: %v", key, err)
	}
}

func (w *Warmer) count(status string) {
	if w.metrics != nil {
		w.metrics.WarmerRuns.WithLabelValues(status).Inc()
	}
}
