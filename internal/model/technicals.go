package model

// Trend is the coarse trend classification derived from EMA and MACD.
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// MACD holds the MACD line, its signal line and the histogram (value - signal).
type MACD struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bands is a Bollinger envelope.
type Bands struct {
	Upper float64 `json:"upper"`
	Mid   float64 `json:"mid"`
	Lower float64 `json:"lower"`
}

// TechnicalSnapshot is the derived, stateless view of a candle window.
// It is recomputed every cycle and never mutated in place.
type TechnicalSnapshot struct {
	RSI        float64 `json:"rsi"`
	EMA9       float64 `json:"ema9"`
	EMA21      float64 `json:"ema21"`
	MACD       MACD    `json:"macd"`
	Bollinger  Bands   `json:"bb"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
	Trend      Trend   `json:"trend"`
}

// NeutralSnapshot is returned when there is not enough history to compute
// indicators: RSI 50, NEUTRAL trend and every other field zero.
func NeutralSnapshot() TechnicalSnapshot {
	return TechnicalSnapshot{RSI: 50, Trend: TrendNeutral}
}

// PriceStatus classifies the RSI reading for display and prompts.
func (s *TechnicalSnapshot) PriceStatus() string {
	switch {
	case s.RSI > 70:
		return "OVERBOUGHT"
	case s.RSI < 30:
		return "OVERSOLD"
	default:
		return "NEUTRAL"
	}
}
