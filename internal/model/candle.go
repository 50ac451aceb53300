package model

import (
	"encoding/json"
	"time"
)

// Candle is a single OHLCV bucket for one instrument.
// Sequences of candles are always chronological and never mutated once built.
type Candle struct {
	Time   time.Time `json:"time"` // bucket start time
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range returns the high-low spread of the candle.
func (c *Candle) Range() float64 {
	return c.High - c.Low
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close prices of candles, preserving order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}
