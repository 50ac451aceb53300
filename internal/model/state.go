package model

import (
	"encoding/json"
	"time"
)

// State is the read-only view of a pipeline that presentation consumes.
// Every field is a copy; mutating a State never affects the pipeline.
type State struct {
	Instrument     string            `json:"instrument"`
	Timeframe      Timeframe         `json:"timeframe"`
	Active         bool              `json:"active"`
	Loading        bool              `json:"loading"`
	QuotaExhausted bool              `json:"quota_exhausted"`
	Signal         *Signal           `json:"signal"`
	Technicals     TechnicalSnapshot `json:"technicals"`
	LivePrice      float64           `json:"live_price"`
	PriceDecimals  int               `json:"price_decimals"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// JSON returns the JSON-encoded state.
func (s *State) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
