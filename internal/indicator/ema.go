package indicator

// EMAState is a running Exponential Moving Average.
// It is seeded with the first value it sees (not an SMA seed), which biases
// early values towards the first price. O(1) per update.
type EMAState struct {
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a running EMA with smoothing factor k = 2/(period+1).
func NewEMA(period int) *EMAState {
	return &EMAState{
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds the next value.
func (e *EMAState) Update(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	// EMA = Price*k + EMA_prev*(1-k), written so a repeated price is an exact
	// fixed point.
	e.current += e.multiplier * (price - e.current)
}

func (e *EMAState) Value() float64 { return e.current }

// EMA returns the exponential moving average of the whole series.
// An empty series yields 0.
func EMA(data []float64, period int) float64 {
	e := NewEMA(period)
	for _, v := range data {
		e.Update(v)
	}
	return e.Value()
}

// EMASeries returns the point-in-time EMA after every element of data, so
// out[i] == EMA(data[:i+1], period).
func EMASeries(data []float64, period int) []float64 {
	e := NewEMA(period)
	out := make([]float64, len(data))
	for i, v := range data {
		e.Update(v)
		out[i] = e.Value()
	}
	return out
}
