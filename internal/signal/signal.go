// Package signal turns an indicator snapshot and trend classification into a
// discrete trading call with confidence and ATR-based risk levels.
package signal

import (
	"fmt"
	"math"
	"time"

	"marketscope/internal/model"
)

const (
	baseline = 50.0

	trendThreshold = 60.0
	rsiOverbought  = 70.0
	rsiOversold    = 30.0

	weightTrend     = 20.0
	weightRSI       = 15.0
	weightMACD      = 10.0
	weightBollinger = 10.0
	weightMAStack   = 10.0

	// fallbackRiskPct is the volatility unit used when ATR is absent.
	fallbackRiskPct = 0.02
	stopMultiple    = 2.0
	targetMultiple  = 3.0
)

// Generator is stateless; one instance may serve concurrent callers.
type Generator struct{}

// NewGenerator creates a signal generator.
func NewGenerator() *Generator { return &Generator{} }

// Generate produces a trading signal for symbol at price.
//
// It returns model.ErrInsufficientData when the snapshot was computed from no
// bars or the trend could not be classified, so callers never mistake missing
// history for a neutral call. A non-positive or non-finite price fails with
// model.ErrComputation.
func (g *Generator) Generate(symbol string, snap model.IndicatorSnapshot, tr model.TrendAnalysis, price float64, now time.Time) (model.TradingSignal, error) {
	if snap.Bars == 0 || tr.Direction == model.Unknown {
		return model.TradingSignal{}, fmt.Errorf("%w: no analysable bars for %s/%s", model.ErrInsufficientData, symbol, snap.Timeframe)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return model.TradingSignal{}, fmt.Errorf("%w: invalid price %v for %s", model.ErrComputation, price, symbol)
	}

	kind := model.Neutral
	confidence := baseline
	reasons := []string{}

	// Trend
	if tr.Strength > trendThreshold {
		switch tr.Direction {
		case model.Bullish:
			kind = model.Buy
			confidence += weightTrend
			reasons = append(reasons, fmt.Sprintf("strong uptrend (strength: %.0f%%)", tr.Strength))
		case model.Bearish:
			kind = model.Sell
			confidence += weightTrend
			reasons = append(reasons, fmt.Sprintf("strong downtrend (strength: %.0f%%)", tr.Strength))
		}
	}

	// RSI extremes promote a call that already agrees.
	if snap.RSI != nil {
		rsi := *snap.RSI
		switch {
		case rsi > rsiOverbought:
			if kind == model.Sell {
				kind = model.StrongSell
				confidence += weightRSI
			}
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", rsi))
		case rsi < rsiOversold:
			if kind == model.Buy {
				kind = model.StrongBuy
				confidence += weightRSI
			}
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
		}
	}

	// MACD momentum
	if snap.MACD != nil && snap.MACDSignal != nil && snap.MACDHistogram != nil {
		diff := *snap.MACD - *snap.MACDSignal
		hist := *snap.MACDHistogram
		switch {
		case diff > 0 && hist > 0:
			if kind == model.Buy || kind == model.Neutral {
				confidence += weightMACD
			}
			reasons = append(reasons, "MACD buy signal")
		case diff < 0 && hist < 0:
			if kind == model.Sell || kind == model.Neutral {
				confidence += weightMACD
			}
			reasons = append(reasons, "MACD sell signal")
		}
	}

	// Bollinger breakouts read as reversal confirmation.
	if snap.BBUpper != nil && snap.BBMiddle != nil && snap.BBLower != nil {
		switch {
		case price > *snap.BBUpper:
			reasons = append(reasons, "price above upper Bollinger band")
			if kind == model.Sell {
				confidence += weightBollinger
			}
		case price < *snap.BBLower:
			reasons = append(reasons, "price below lower Bollinger band")
			if kind == model.Buy {
				confidence += weightBollinger
			}
		}
	}

	// Moving-average stack
	if snap.SMA20 != nil && snap.SMA50 != nil {
		sma20, sma50 := *snap.SMA20, *snap.SMA50
		switch {
		case price > sma20 && sma20 > sma50:
			if kind == model.Buy || kind == model.Neutral {
				confidence += weightMAStack
			}
			reasons = append(reasons, "price above moving averages")
		case price < sma20 && sma20 < sma50:
			if kind == model.Sell || kind == model.Neutral {
				confidence += weightMAStack
			}
			reasons = append(reasons, "price below moving averages")
		}
	}

	sig := model.TradingSignal{
		Symbol:     symbol,
		Timeframe:  snap.Timeframe,
		Signal:     kind,
		Confidence: model.Clamp(confidence, 0, 100),
		Reasons:    reasons,
		EntryPrice: model.Float(price),
		TS:         now,
	}

	unit := price * fallbackRiskPct
	if snap.ATR != nil && *snap.ATR > 0 {
		unit = *snap.ATR
	}
	switch {
	case kind.IsBuy():
		sig.StopLoss = model.Float(price - stopMultiple*unit)
		sig.TakeProfit = model.Float(price + targetMultiple*unit)
	case kind.IsSell():
		sig.StopLoss = model.Float(price + stopMultiple*unit)
		sig.TakeProfit = model.Float(price - targetMultiple*unit)
	}
	return sig, nil
}
