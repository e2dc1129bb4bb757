package indicator

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"marketscope/internal/model"
)

// Set selects which indicator families the Engine computes.
type Set uint16

const (
	SetSMA Set = 1 << iota
	SetEMA
	SetMACD
	SetRSI
	SetStochastic
	SetBollinger
	SetATR
	SetOBV
	SetVWAP

	SetAll = SetSMA | SetEMA | SetMACD | SetRSI | SetStochastic | SetBollinger | SetATR | SetOBV | SetVWAP
)

var setNames = map[string]Set{
	"sma":    SetSMA,
	"ema":    SetEMA,
	"macd":   SetMACD,
	"rsi":    SetRSI,
	"stoch":  SetStochastic,
	"bbands": SetBollinger,
	"atr":    SetATR,
	"obv":    SetOBV,
	"vwap":   SetVWAP,
}

// ParseSet parses a comma-separated family list, e.g. "sma,ema,rsi".
// An empty string selects every family; unknown names are skipped with a warning.
func ParseSet(s string) Set {
	if strings.TrimSpace(s) == "" {
		return SetAll
	}
	var set Set
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		bit, ok := setNames[name]
		if !ok {
			slog.Warn("skipping unknown indicator family", "name", name)
			continue
		}
		set |= bit
	}
	if set == 0 {
		slog.Warn("no valid indicator families parsed, using all")
		return SetAll
	}
	return set
}

// Has reports whether every family in other is selected.
func (s Set) Has(other Set) bool { return s&other == other }

// Standard periods for the snapshot fields.
const (
	PeriodSMAShort  = 20
	PeriodSMAMedium = 50
	PeriodSMALong   = 200
	PeriodEMAFast   = 12
	PeriodEMASlow   = 26
	PeriodMACDSig   = 9
	PeriodRSI       = 14
	PeriodStochK    = 14
	PeriodStochD    = 3
	PeriodBollinger = 20
	BollingerMult   = 2.0
	PeriodATR       = 14
)

// Engine computes an IndicatorSnapshot from a bar sequence.
// It holds no per-call state, so one Engine is safe for concurrent use.
type Engine struct {
	set Set
}

// NewEngine creates an indicator engine computing the given families.
// A zero Set selects every family.
func NewEngine(set Set) *Engine {
	if set == 0 {
		set = SetAll
	}
	return &Engine{set: set}
}

// instances holds fresh indicator state for one Compute call.
type instances struct {
	sma20, sma50, sma200 *SMA
	ema12, ema26         *EMA
	macd                 *MACD
	rsi                  *RSI
	stoch                *Stochastic
	bb                   *Bollinger
	atr                  *ATR
	obv                  *OBV
	vwap                 *VWAP

	all []Indicator
}

func (e *Engine) newInstances() *instances {
	in := &instances{}
	add := func(ind Indicator) { in.all = append(in.all, ind) }
	if e.set.Has(SetSMA) {
		in.sma20, in.sma50, in.sma200 = NewSMA(PeriodSMAShort), NewSMA(PeriodSMAMedium), NewSMA(PeriodSMALong)
		add(in.sma20)
		add(in.sma50)
		add(in.sma200)
	}
	if e.set.Has(SetEMA) {
		in.ema12, in.ema26 = NewEMA(PeriodEMAFast), NewEMA(PeriodEMASlow)
		add(in.ema12)
		add(in.ema26)
	}
	if e.set.Has(SetMACD) {
		in.macd = NewMACD(PeriodEMAFast, PeriodEMASlow, PeriodMACDSig)
		add(in.macd)
	}
	if e.set.Has(SetRSI) {
		in.rsi = NewRSI(PeriodRSI)
		add(in.rsi)
	}
	if e.set.Has(SetStochastic) {
		in.stoch = NewStochastic(PeriodStochK, PeriodStochD)
		add(in.stoch)
	}
	if e.set.Has(SetBollinger) {
		in.bb = NewBollinger(PeriodBollinger, BollingerMult)
		add(in.bb)
	}
	if e.set.Has(SetATR) {
		in.atr = NewATR(PeriodATR)
		add(in.atr)
	}
	if e.set.Has(SetOBV) {
		in.obv = NewOBV()
		add(in.obv)
	}
	if e.set.Has(SetVWAP) {
		in.vwap = NewVWAP()
		add(in.vwap)
	}
	return in
}

// Compute feeds bars (ascending by TS) through every selected indicator and
// returns the latest values.
//
// With no bars it returns an all-absent snapshot together with
// model.ErrInsufficientData. With at least one bar the error is nil and
// indicators whose warm-up is not met are left nil. A non-finite value or a
// degenerate Stochastic window fails the call with model.ErrComputation.
func (e *Engine) Compute(symbol string, tf model.Timeframe, bars []model.Bar) (model.IndicatorSnapshot, error) {
	snap := model.IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: tf,
		Bars:      len(bars),
	}
	if len(bars) == 0 {
		return snap, fmt.Errorf("%w: no bars for %s/%s", model.ErrInsufficientData, symbol, tf)
	}
	snap.AsOf = bars[len(bars)-1].TS

	in := e.newInstances()
	for _, bar := range bars {
		for _, ind := range in.all {
			ind.Update(bar)
		}
	}

	for _, ind := range in.all {
		if f, ok := ind.(faulty); ok {
			if err := f.Err(); err != nil {
				return snap, err
			}
		}
	}

	var bad []string
	read := func(name string, ready bool, v float64) *float64 {
		if !ready {
			return nil
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, name)
			return nil
		}
		return model.Float(v)
	}

	if in.sma20 != nil {
		snap.SMA20 = read("sma_20", in.sma20.Ready(), in.sma20.Value())
		snap.SMA50 = read("sma_50", in.sma50.Ready(), in.sma50.Value())
		snap.SMA200 = read("sma_200", in.sma200.Ready(), in.sma200.Value())
	}
	if in.ema12 != nil {
		snap.EMA12 = read("ema_12", in.ema12.Ready(), in.ema12.Value())
		snap.EMA26 = read("ema_26", in.ema26.Ready(), in.ema26.Value())
	}
	if in.macd != nil {
		snap.MACD = read("macd", in.macd.Ready(), in.macd.Value())
		snap.MACDSignal = read("macd_signal", in.macd.Ready(), in.macd.Signal())
		snap.MACDHistogram = read("macd_histogram", in.macd.Ready(), in.macd.Histogram())
	}
	if in.rsi != nil {
		snap.RSI = read("rsi", in.rsi.Ready(), in.rsi.Value())
	}
	if in.stoch != nil {
		snap.StochK = read("stoch_k", in.stoch.Ready(), in.stoch.Value())
		snap.StochD = read("stoch_d", in.stoch.DReady(), in.stoch.D())
	}
	if in.bb != nil {
		snap.BBUpper = read("bb_upper", in.bb.Ready(), in.bb.Upper())
		snap.BBMiddle = read("bb_middle", in.bb.Ready(), in.bb.Value())
		snap.BBLower = read("bb_lower", in.bb.Ready(), in.bb.Lower())
	}
	if in.atr != nil {
		snap.ATR = read("atr", in.atr.Ready(), in.atr.Value())
	}
	if in.obv != nil {
		snap.OBV = read("obv", in.obv.Ready(), in.obv.Value())
	}
	if in.vwap != nil {
		snap.VWAP = read("vwap", in.vwap.Ready(), in.vwap.Value())
	}

	if len(bad) > 0 {
		return snap, fmt.Errorf("%w: non-finite %s for %s/%s", model.ErrComputation, strings.Join(bad, ","), symbol, tf)
	}
	return snap, nil
}
