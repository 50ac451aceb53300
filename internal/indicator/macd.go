package indicator

import "trading-signalv1/internal/model"

// MACD computes EMA(12) - EMA(26) of closes, its EMA(9) signal line and the
// histogram.
//
// The signal line is taken over the full history of point-in-time MACD
// values: for every prefix closes[:i+1] the MACD is EMA12(prefix) -
// EMA26(prefix). Because both EMAs are seeded with the first element, the
// running EMA after i+1 updates equals the EMA of that prefix, so the series is
// built in one pass instead of recomputing each prefix.
func MACD(closes []float64) model.MACD {
	if len(closes) == 0 {
		return model.MACD{}
	}

	fast := EMASeries(closes, macdFastPeriod)
	slow := EMASeries(closes, macdSlowPeriod)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}

	value := line[len(line)-1]
	signal := EMA(line, macdSignalLen)
	return model.MACD{
		Value:     value,
		Signal:    signal,
		Histogram: value - signal,
	}
}
