package model

import "time"

// Tick is a single live price update for an instrument.
type Tick struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	TS         time.Time `json:"ts"` // UTC
}
