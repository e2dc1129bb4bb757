// Package trend classifies the direction and strength of a price trend from
// an indicator snapshot and derives nearby support and resistance levels.
//
// Scoring is additive from a baseline of 50. Rules run in a fixed order:
//
//  1. Moving-average stack: price > SMA20 > SMA50 is bullish (+20),
//     price < SMA20 < SMA50 is bearish (+20), anything else stays sideways.
//  2. RSI: overbought (>70) adds 10 to a bearish reading, oversold (<30)
//     adds 10 to a bullish one, 40..60 is noted as neutral.
//  3. MACD vs its signal line: agreement with the direction adds 15.
//
// Strength is clamped to [0, 100] after all rules.
package trend

import (
	"fmt"
	"strings"

	"marketscope/internal/model"
)

const (
	baseline = 50.0

	weightMAStack = 20.0
	weightRSI     = 10.0
	weightMACD    = 15.0

	rsiOverbought  = 70.0
	rsiOversold    = 30.0
	rsiNeutralLow  = 40.0
	rsiNeutralHigh = 60.0

	// DefaultLookback is how many trailing closes the level scan inspects.
	DefaultLookback = 50
	// DefaultMaxLevels caps each of the support and resistance lists.
	DefaultMaxLevels = 3
)

// Analyzer is stateless; one instance may serve concurrent callers.
type Analyzer struct {
	lookback  int
	maxLevels int
}

// NewAnalyzer creates an Analyzer with the default level scan settings.
func NewAnalyzer() *Analyzer {
	return &Analyzer{lookback: DefaultLookback, maxLevels: DefaultMaxLevels}
}

// Analyze classifies the trend at the last bar. The current price is the
// last close. An empty bar sequence yields direction unknown with strength 0.
func (a *Analyzer) Analyze(snap model.IndicatorSnapshot, bars []model.Bar) model.TrendAnalysis {
	out := model.TrendAnalysis{
		Timeframe:        snap.Timeframe,
		Direction:        model.Unknown,
		SupportLevels:    []float64{},
		ResistanceLevels: []float64{},
		Description:      "insufficient data",
	}
	if len(bars) == 0 {
		return out
	}

	price := bars[len(bars)-1].Close
	direction := model.Sideways
	strength := baseline
	var reasons []string

	if snap.SMA20 != nil && snap.SMA50 != nil {
		sma20, sma50 := *snap.SMA20, *snap.SMA50
		switch {
		case price > sma20 && sma20 > sma50:
			direction = model.Bullish
			strength += weightMAStack
			reasons = append(reasons, "price above moving averages")
		case price < sma20 && sma20 < sma50:
			direction = model.Bearish
			strength += weightMAStack
			reasons = append(reasons, "price below moving averages")
		}
	}

	if snap.RSI != nil {
		rsi := *snap.RSI
		switch {
		case rsi > rsiOverbought:
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", rsi))
			if direction == model.Bearish {
				strength += weightRSI
			}
		case rsi < rsiOversold:
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
			if direction == model.Bullish {
				strength += weightRSI
			}
		case rsi >= rsiNeutralLow && rsi <= rsiNeutralHigh:
			reasons = append(reasons, fmt.Sprintf("RSI neutral (%.1f)", rsi))
		}
	}

	if snap.MACD != nil && snap.MACDSignal != nil {
		macd, sig := *snap.MACD, *snap.MACDSignal
		switch {
		case macd > sig:
			reasons = append(reasons, "MACD above signal")
			if direction == model.Bullish {
				strength += weightMACD
			}
		case macd < sig:
			reasons = append(reasons, "MACD below signal")
			if direction == model.Bearish {
				strength += weightMACD
			}
		default:
			reasons = append(reasons, "MACD at signal")
		}
	}

	strength = model.Clamp(strength, 0, 100)

	closes := model.Closes(bars)
	if len(closes) > a.lookback {
		closes = closes[len(closes)-a.lookback:]
	}
	support, resistance := Levels(closes, price, a.maxLevels)

	out.Direction = direction
	out.Strength = strength
	out.SupportLevels = support
	out.ResistanceLevels = resistance
	out.Description = fmt.Sprintf("%s: %s (strength: %.0f%%). %s", snap.Timeframe, direction, strength, strings.Join(reasons, "; "))
	return out
}
