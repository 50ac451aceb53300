package model

// Timeframe is the candle bucket width requested from the market data source.
type Timeframe string

const (
	Timeframe1m Timeframe = "1m"
	Timeframe3m Timeframe = "3m"
	Timeframe5m Timeframe = "5m"
)

// Timeframes lists the selectable timeframes in display order.
var Timeframes = []Timeframe{Timeframe1m, Timeframe3m, Timeframe5m}

// Valid reports whether tf is one of the selectable timeframes.
func (tf Timeframe) Valid() bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// Label returns the display label, e.g. "5 Minutes".
func (tf Timeframe) Label() string {
	switch tf {
	case Timeframe1m:
		return "1 Minute"
	case Timeframe3m:
		return "3 Minutes"
	case Timeframe5m:
		return "5 Minutes"
	default:
		return string(tf)
	}
}
