package model

import (
	"context"
	"strconv"
	"time"
)

// ── Ports ──
// These interfaces decouple the analysis pipeline from concrete market data
// providers and result caches (Yahoo, SQLite, Redis, in-memory).

// BarSource supplies ascending-time bars and latest quotes for a symbol.
// It is the only blocking collaborator of the pipeline; ctx bounds each call.
type BarSource interface {
	// Bars returns the bars for symbol at timeframe tf, ordered by TS ascending.
	Bars(ctx context.Context, symbol string, tf Timeframe) ([]Bar, error)

	// Quote returns the latest quote for symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// CacheKey identifies a computed result. AsOf is the timestamp of the last
// bar the result was computed from, so a new bar naturally misses.
type CacheKey struct {
	Kind      string // "indicators", "trend", "signal"
	Symbol    string
	Timeframe Timeframe
	AsOf      time.Time
}

// String returns "kind:symbol:tf:asOfUnix".
func (k CacheKey) String() string {
	return k.Kind + ":" + k.Symbol + ":" + k.Timeframe.String() + ":" + strconv.FormatInt(k.AsOf.Unix(), 10)
}

// ResultCache stores JSON-encoded analysis results.
type ResultCache interface {
	// Get returns the cached value and true on a hit.
	Get(ctx context.Context, key CacheKey) ([]byte, bool)

	// Set stores value under key for the cache's TTL.
	Set(ctx context.Context, key CacheKey, value []byte)

	// Invalidate drops every entry for (symbol, tf) regardless of AsOf.
	Invalidate(ctx context.Context, symbol string, tf Timeframe)
}
