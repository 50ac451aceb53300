package indicator

import "trading-signalv1/internal/model"

// Momentum is the relative change between the last close and the close lag
// positions from the end (lag=5 compares closes[-1] with closes[-5]), scaled
// by 1000. A zero base price is replaced by 1.
func Momentum(closes []float64, lag int) float64 {
	n := len(closes)
	if lag <= 0 || n < lag {
		return 0
	}
	base := closes[n-lag]
	return (closes[n-1] - base) / nonZero(base) * 1000
}

// Volatility is the mean high-low range of the last n candles, normalised by
// the last close and scaled by 10000 (basis points of price).
func Volatility(candles []model.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	window := candles[len(candles)-n:]
	sum := 0.0
	for i := range window {
		sum += window[i].Range()
	}
	avg := sum / float64(n)
	return avg / nonZero(candles[len(candles)-1].Close) * 10000
}
