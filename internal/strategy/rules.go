package strategy

import "trading-signalv1/internal/model"

// Rule is one entry of the fallback table.
type Rule struct {
	Name       string
	Direction  model.Direction
	Confidence int
	Reasoning  string
	Match      func(s model.TechnicalSnapshot) bool
}

// Rules is the fallback table in priority order. Anything that matches none
// of them is a WAIT.
var Rules = []Rule{
	{
		Name:       "oversold_rebound",
		Direction:  model.DirectionCall,
		Confidence: 85,
		Reasoning:  "Oversold Rebound: RSI rejection with MACD bullish crossover.",
		Match: func(s model.TechnicalSnapshot) bool {
			return s.RSI < 30 && s.MACD.Histogram > 0 && s.Trend == model.TrendBullish
		},
	},
	{
		Name:       "overbought_rejection",
		Direction:  model.DirectionPut,
		Confidence: 84,
		Reasoning:  "Overbought Rejection: RSI resistance with MACD bearish pressure.",
		Match: func(s model.TechnicalSnapshot) bool {
			return s.RSI > 70 && s.MACD.Histogram < 0 && s.Trend == model.TrendBearish
		},
	},
	{
		Name:       "extreme_oversold",
		Direction:  model.DirectionCall,
		Confidence: 78,
		Reasoning:  "Extreme Oversold: Technical bounce expected.",
		Match:      func(s model.TechnicalSnapshot) bool { return s.RSI < 25 },
	},
	{
		Name:       "extreme_overbought",
		Direction:  model.DirectionPut,
		Confidence: 78,
		Reasoning:  "Extreme Overbought: Technical correction imminent.",
		Match:      func(s model.TechnicalSnapshot) bool { return s.RSI > 75 },
	},
}
