package model

import "time"

// Direction is a trend classification.
type Direction string

const (
	Bullish  Direction = "bullish"
	Bearish  Direction = "bearish"
	Sideways Direction = "sideways"
	Unknown  Direction = "unknown"
)

// SignalKind is a discrete trading call.
type SignalKind string

const (
	StrongBuy  SignalKind = "strong_buy"
	Buy        SignalKind = "buy"
	Neutral    SignalKind = "neutral"
	Sell       SignalKind = "sell"
	StrongSell SignalKind = "strong_sell"
)

// IsBuy reports whether k is buy or strong_buy.
func (k SignalKind) IsBuy() bool { return k == Buy || k == StrongBuy }

// IsSell reports whether k is sell or strong_sell.
func (k SignalKind) IsSell() bool { return k == Sell || k == StrongSell }

// IndicatorSnapshot holds the latest value of every indicator for one
// (symbol, timeframe) as of the last bar. A nil field means the indicator's
// warm-up window exceeded the available bars; it encodes as JSON null.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	AsOf      time.Time `json:"timestamp"`
	Bars      int       `json:"bars"` // number of bars the snapshot was computed from

	SMA20  *float64 `json:"sma_20"`
	SMA50  *float64 `json:"sma_50"`
	SMA200 *float64 `json:"sma_200"`
	EMA12  *float64 `json:"ema_12"`
	EMA26  *float64 `json:"ema_26"`

	MACD          *float64 `json:"macd"`
	MACDSignal    *float64 `json:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram"`

	RSI *float64 `json:"rsi"`

	StochK *float64 `json:"stoch_k"`
	StochD *float64 `json:"stoch_d"`

	BBUpper  *float64 `json:"bb_upper"`
	BBMiddle *float64 `json:"bb_middle"`
	BBLower  *float64 `json:"bb_lower"`

	ATR  *float64 `json:"atr"`
	OBV  *float64 `json:"obv"`
	VWAP *float64 `json:"vwap"`
}

// TrendAnalysis is the trend classification for one timeframe.
type TrendAnalysis struct {
	Timeframe        Timeframe `json:"timeframe"`
	Direction        Direction `json:"direction"`
	Strength         float64   `json:"strength"` // 0..100
	SupportLevels    []float64 `json:"support_levels"`
	ResistanceLevels []float64 `json:"resistance_levels"`
	Description      string    `json:"description"`
}

// TradingSignal is a discrete call with confidence and risk levels.
// StopLoss and TakeProfit are nil for neutral signals.
type TradingSignal struct {
	Symbol     string     `json:"symbol"`
	Timeframe  Timeframe  `json:"timeframe"`
	Signal     SignalKind `json:"signal"`
	Confidence float64    `json:"confidence"` // 0..100
	Reasons    []string   `json:"reasons"`
	EntryPrice *float64   `json:"entry_price"`
	StopLoss   *float64   `json:"stop_loss"`
	TakeProfit *float64   `json:"take_profit"`
	TS         time.Time  `json:"timestamp"`
}

// ConsensusView reduces per-timeframe trends to one directional call.
type ConsensusView struct {
	Symbol          string                      `json:"symbol"`
	TS              time.Time                   `json:"timestamp"`
	CurrentPrice    float64                     `json:"current_price"`
	Timeframes      []Timeframe                 `json:"timeframes"` // request order
	Analyses        map[Timeframe]TrendAnalysis `json:"analyses"`
	OverallTrend    Direction                   `json:"overall_trend"`
	ConsensusSignal SignalKind                  `json:"consensus_signal"`
	Summary         string                      `json:"summary"`
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 { return &v }
