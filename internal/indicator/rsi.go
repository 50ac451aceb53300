package indicator

// RSI computes the Relative Strength Index over the last period transitions
// of closes using plain sums (no Wilder smoothing).
//
// A zero loss sum is replaced by 1, not an epsilon, so a strictly rising
// series approaches 100 as the gains grow rather than pinning to it.
// closes must hold at least period+1 values; shorter input returns 50.
func RSI(closes []float64, period int) float64 {
	n := len(closes)
	if period <= 0 || n < period+1 {
		return 50
	}

	var gains, losses float64
	for i := n - period; i < n; i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	rs := gains / nonZero(losses)
	return 100 - 100/(1+rs)
}
