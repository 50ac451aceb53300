package model

import (
	"encoding/json"
	"time"
)

// Direction is the recommended trade direction.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
	DirectionWait Direction = "WAIT"
)

// Valid reports whether d is one of CALL, PUT or WAIT.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut || d == DirectionWait
}

// Signal is the recommendation produced by one pipeline cycle.
//
// SecondsRemaining is the only field mutated after creation: the countdown
// clock decrements it to zero. A new cycle replaces the Signal; it never edits
// the previous one.
type Signal struct {
	Market           string    `json:"market"`
	Timeframe        Timeframe `json:"timeframe"`
	Direction        Direction `json:"direction"`
	Confidence       int       `json:"confidence"` // 0-100
	EntryTime        time.Time `json:"entry_time"`
	ExpiryTime       time.Time `json:"expiry_time"`
	SecondsRemaining int       `json:"seconds_remaining"`
	GeneratedAt      time.Time `json:"generated_at"`
	Reasoning        string    `json:"reasoning,omitempty"`
	Source           string    `json:"source"`     // "advisory" or "fallback"
	Generation       uint64    `json:"generation"` // pipeline cycle id
}

// Clone returns a copy that is safe to hand to readers.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
