package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// runBroadcaster pushes an update immediately and then every interval until
// ctx is cancelled. A failed build is logged and retried on the next tick.
// Updates go to ch itself, never to a later channel registered under the
// same name.
func (h *Hub) runBroadcaster(ctx context.Context, ch *channel) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.publish(ctx, ch)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Hub) publish(ctx context.Context, ch *channel) {
	symbol := ch.symbol
	update, err := h.BuildUpdate(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[gateway] market update for %s failed: %v", symbol, err)
		if h.metrics != nil {
			h.metrics.BroadcastErrors.Inc()
		}
		return
	}
	msg, err := json.Marshal(update)
	if err != nil {
		log.Printf("[gateway] encode market update for %s: %v", symbol, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	h.deliver(ch, msg)
	if h.metrics != nil {
		h.metrics.WSBroadcasts.Inc()
	}
}

// BuildUpdate assembles a market_update for symbol at the hub timeframe.
func (h *Hub) BuildUpdate(ctx context.Context, symbol string) (MarketUpdate, error) {
	quote, err := h.svc.Quote(ctx, symbol)
	if err != nil {
		return MarketUpdate{}, fmt.Errorf("quote: %w", err)
	}
	snap, err := h.svc.Indicators(ctx, symbol, h.tf)
	if err != nil {
		return MarketUpdate{}, fmt.Errorf("indicators: %w", err)
	}
	tr, err := h.svc.Trend(ctx, symbol, h.tf)
	if err != nil {
		return MarketUpdate{}, fmt.Errorf("trend: %w", err)
	}
	return MarketUpdate{
		Type:      "market_update",
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Data:      MarketData{Quote: quote, Indicators: snap, Trend: tr},
	}, nil
}
