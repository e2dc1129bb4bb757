package gateway

import (
	"time"

	"marketscope/internal/model"
)

// MarketUpdate is the periodic push sent to /ws/market/{symbol} subscribers.
type MarketUpdate struct {
	Type      string     `json:"type"` // always "market_update"
	Symbol    string     `json:"symbol"`
	Timestamp time.Time  `json:"timestamp"`
	Data      MarketData `json:"data"`
}

// MarketData bundles the latest quote with the analyses at the hub timeframe.
type MarketData struct {
	Quote      model.Quote             `json:"quote"`
	Indicators model.IndicatorSnapshot `json:"indicators"`
	Trend      model.TrendAnalysis     `json:"trend"`
}

// ErrorResponse is the body of every non-2xx REST response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// TimeframeInfo describes one entry of /api/v1/timeframes.
type TimeframeInfo struct {
	Label            string `json:"label"`
	Seconds          int64  `json:"seconds"`
	ProviderInterval string `json:"provider_interval"`
	Lookback         string `json:"lookback"`
}
