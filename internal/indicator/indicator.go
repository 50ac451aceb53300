// Package indicator derives a technical snapshot from a window of candles.
//
// Everything here is a pure function of its input: no state survives between
// calls and the candle slice is never modified. EMAs are seeded with the
// first element, RSI floors the average loss at 1, and Bollinger bands use
// the population standard deviation.
package indicator

import "trading-signalv1/internal/model"

// MinCandles is the shortest window for which a full snapshot is computed.
// Shorter windows yield model.NeutralSnapshot.
const MinCandles = 26

const (
	rsiPeriod       = 14
	fastEMAPeriod   = 9
	slowEMAPeriod   = 21
	macdFastPeriod  = 12
	macdSlowPeriod  = 26
	macdSignalLen   = 9
	bollingerPeriod = 20
	bollingerWidth  = 2.0
	momentumLag     = 5
	volatilityLen   = 5
)

// Compute returns the technical snapshot for a chronological candle window.
func Compute(candles []model.Candle) model.TechnicalSnapshot {
	if len(candles) < MinCandles {
		return model.NeutralSnapshot()
	}

	closes := model.Closes(candles)

	ema9 := EMA(closes, fastEMAPeriod)
	ema21 := EMA(closes, slowEMAPeriod)
	macd := MACD(closes)

	return model.TechnicalSnapshot{
		RSI:        RSI(closes, rsiPeriod),
		EMA9:       ema9,
		EMA21:      ema21,
		MACD:       macd,
		Bollinger:  Bollinger(closes, bollingerPeriod, bollingerWidth),
		Momentum:   Momentum(closes, momentumLag),
		Volatility: Volatility(candles, volatilityLen),
		Trend:      ClassifyTrend(ema9, ema21, macd.Histogram),
	}
}

// ClassifyTrend is BULLISH when the fast EMA is above the slow EMA and the
// MACD histogram is positive, BEARISH when both are reversed, else NEUTRAL.
func ClassifyTrend(ema9, ema21, histogram float64) model.Trend {
	switch {
	case ema9 > ema21 && histogram > 0:
		return model.TrendBullish
	case ema9 < ema21 && histogram < 0:
		return model.TrendBearish
	default:
		return model.TrendNeutral
	}
}

// nonZero substitutes 1 for a zero denominator.
func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
