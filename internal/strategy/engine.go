// Package strategy is the decision engine. It turns a technical snapshot and
// an optional advisory verdict into a directional recommendation.
//
// A successful advisory verdict always wins. When the advisory call failed
// (or was never made), a fixed rule table decides instead; rules are
// evaluated in priority order and the first match wins.
package strategy

import (
	"trading-signalv1/internal/advisory"
	"trading-signalv1/internal/model"
)

// Decision sources.
const (
	SourceAdvisory = "advisory"
	SourceFallback = "fallback"
)

// FallbackTag prefixes the reasoning of directional fallback decisions so the
// presentation can tell them apart from advisory verdicts.
const FallbackTag = "[Fallback Engine] "

// WaitReasoning is the reasoning attached to a fallback WAIT.
const WaitReasoning = "Scanning volatility levels..."

// Decision is the output of the engine.
type Decision struct {
	Direction  model.Direction `json:"direction"`
	Confidence int             `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	Source     string          `json:"source"`

	// ErrorKind is the advisory failure that routed the decision through
	// the fallback rules, if any.
	ErrorKind advisory.ErrorKind `json:"error_kind,omitempty"`
}

// QuotaExhausted reports whether the advisory service ran out of quota for
// this decision. The orchestrator uses it to suppress further calls.
func (d *Decision) QuotaExhausted() bool {
	return d.ErrorKind == advisory.ErrorQuotaExhausted
}

// Decide returns the advisory verdict verbatim when resp is a usable
// response, and the fallback decision otherwise. A nil resp means the
// advisory call was skipped. Decide never retries.
func Decide(snap model.TechnicalSnapshot, resp *advisory.Response) Decision {
	if resp.OK() {
		dir := resp.Direction
		if dir == "" {
			dir = model.DirectionWait
		}
		return Decision{
			Direction:  dir,
			Confidence: clamp(resp.Confidence),
			Reasoning:  resp.Reasoning,
			Source:     SourceAdvisory,
		}
	}

	d := Fallback(snap)
	if resp != nil {
		d.ErrorKind = resp.ErrorKind
	}
	return d
}

// Fallback evaluates the rule table against snap.
func Fallback(snap model.TechnicalSnapshot) Decision {
	for _, r := range Rules {
		if r.Match(snap) {
			return Decision{
				Direction:  r.Direction,
				Confidence: r.Confidence,
				Reasoning:  FallbackTag + r.Reasoning,
				Source:     SourceFallback,
			}
		}
	}
	return Decision{
		Direction:  model.DirectionWait,
		Confidence: 0,
		Reasoning:  WaitReasoning,
		Source:     SourceFallback,
	}
}

func clamp(c int) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
