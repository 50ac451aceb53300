// Package advisory is the boundary to the external generative advisory
// service. It owns the request/response contract, the hard timeout race and
// the classification of failures. Callers never see a raw error: every
// failure comes back as a Response carrying an ErrorKind.
package advisory

import (
	"errors"

	"trading-signalv1/internal/model"
)

// ErrorKind classifies a failed advisory call.
type ErrorKind string

const (
	ErrorNone           ErrorKind = ""
	ErrorTimeout        ErrorKind = "TIMEOUT"
	ErrorQuotaExhausted ErrorKind = "QUOTA_EXHAUSTED"
	ErrorOther          ErrorKind = "OTHER"
)

var (
	// ErrQuotaExhausted is wrapped by generators when the service reports
	// that the caller has run out of quota.
	ErrQuotaExhausted = errors.New("advisory: quota exhausted")

	// ErrNotConfigured is reported when no generator is configured.
	ErrNotConfigured = errors.New("advisory: no generator configured")

	// ErrMalformedResponse is reported when the service answered with
	// something that does not match the response schema.
	ErrMalformedResponse = errors.New("advisory: malformed response")
)

// Request is what the advisory service is asked about.
type Request struct {
	Instrument string
	Timeframe  model.Timeframe
	Snapshot   model.TechnicalSnapshot
}

// Response is the advisory verdict. When ErrorKind is set, Direction,
// Confidence and Reasoning carry no information and Err holds the cause.
type Response struct {
	Direction  model.Direction `json:"direction"`
	Confidence int             `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	ErrorKind  ErrorKind       `json:"error_kind,omitempty"`
	Err        error           `json:"-"`
}

// OK reports whether the response is a usable verdict.
func (r *Response) OK() bool { return r != nil && r.ErrorKind == ErrorNone }

// Failed builds a failure response of the given kind.
func Failed(kind ErrorKind, err error) Response {
	return Response{ErrorKind: kind, Err: err}
}
