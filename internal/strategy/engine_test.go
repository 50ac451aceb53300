package strategy

import (
	"errors"
	"strings"
	"testing"

	"trading-signalv1/internal/advisory"
	"trading-signalv1/internal/model"
)

func snap(rsi, hist float64, trend model.Trend) model.TechnicalSnapshot {
	s := model.NeutralSnapshot()
	s.RSI = rsi
	s.MACD.Histogram = hist
	s.Trend = trend
	return s
}

// ────────────────────────────────────────────────────────────
// Fallback priority
// ────────────────────────────────────────────────────────────

func TestFallback_Priority(t *testing.T) {
	cases := []struct {
		name string
		in   model.TechnicalSnapshot
		dir  model.Direction
		conf int
	}{
		{"oversold rebound", snap(20, 0.001, model.TrendBullish), model.DirectionCall, 85},
		{"overbought rejection", snap(72, -0.001, model.TrendBearish), model.DirectionPut, 84},
		{"extreme oversold beats later rules", snap(24, 0, model.TrendNeutral), model.DirectionCall, 78},
		{"extreme overbought", snap(80, 0.002, model.TrendBullish), model.DirectionPut, 78},
		{"extreme overbought bearish also matches rule two first", snap(80, -0.002, model.TrendBearish), model.DirectionPut, 84},
		{"oversold without confirmation", snap(28, 0.001, model.TrendNeutral), model.DirectionWait, 0},
		{"neutral", snap(50, 0, model.TrendNeutral), model.DirectionWait, 0},
		{"boundary 30 is not oversold", snap(30, 0.001, model.TrendBullish), model.DirectionWait, 0},
		{"boundary 75 is not extreme", snap(75, 0.001, model.TrendBullish), model.DirectionWait, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Fallback(tc.in)
			if d.Direction != tc.dir || d.Confidence != tc.conf {
				t.Errorf("got %s/%d, want %s/%d", d.Direction, d.Confidence, tc.dir, tc.conf)
			}
			if d.Source != SourceFallback {
				t.Errorf("source = %q, want %q", d.Source, SourceFallback)
			}
		})
	}
}

func TestFallback_Reasoning(t *testing.T) {
	d := Fallback(snap(20, 0.001, model.TrendBullish))
	if !strings.HasPrefix(d.Reasoning, FallbackTag) {
		t.Errorf("directional fallback reasoning %q is not tagged", d.Reasoning)
	}
	if !strings.Contains(d.Reasoning, "Oversold Rebound") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}

	w := Fallback(snap(50, 0, model.TrendNeutral))
	if w.Reasoning != WaitReasoning {
		t.Errorf("wait reasoning = %q, want %q", w.Reasoning, WaitReasoning)
	}
}

func TestFallback_NeutralSnapshotWaits(t *testing.T) {
	d := Fallback(model.NeutralSnapshot())
	if d.Direction != model.DirectionWait || d.Confidence != 0 {
		t.Errorf("neutral snapshot decided %s/%d", d.Direction, d.Confidence)
	}
}

// ────────────────────────────────────────────────────────────
// Decide
// ────────────────────────────────────────────────────────────

func TestDecide_AdvisoryPassThrough(t *testing.T) {
	// Snapshot would trigger rule one; the advisory verdict must still win.
	s := snap(20, 0.001, model.TrendBullish)
	resp := &advisory.Response{Direction: model.DirectionPut, Confidence: 61, Reasoning: "lower high forming"}

	d := Decide(s, resp)
	if d.Direction != model.DirectionPut || d.Confidence != 61 || d.Reasoning != "lower high forming" {
		t.Errorf("advisory verdict not passed through: %+v", d)
	}
	if d.Source != SourceAdvisory {
		t.Errorf("source = %q", d.Source)
	}
	if d.QuotaExhausted() {
		t.Error("successful verdict reported quota exhaustion")
	}
}

func TestDecide_AdvisoryMissingFieldsDefault(t *testing.T) {
	d := Decide(snap(20, 0.001, model.TrendBullish), &advisory.Response{})
	if d.Direction != model.DirectionWait || d.Confidence != 0 {
		t.Errorf("empty verdict decided %s/%d, want WAIT/0", d.Direction, d.Confidence)
	}
	if d.Source != SourceAdvisory {
		t.Errorf("source = %q", d.Source)
	}
}

func TestDecide_FailuresUseFallback(t *testing.T) {
	s := snap(72, -0.001, model.TrendBearish)
	for _, kind := range []advisory.ErrorKind{advisory.ErrorTimeout, advisory.ErrorQuotaExhausted, advisory.ErrorOther} {
		resp := advisory.Failed(kind, errors.New("boom"))
		d := Decide(s, &resp)
		if d.Direction != model.DirectionPut || d.Confidence != 84 {
			t.Errorf("%s: got %s/%d, want PUT/84", kind, d.Direction, d.Confidence)
		}
		if d.ErrorKind != kind {
			t.Errorf("%s: error kind not surfaced, got %q", kind, d.ErrorKind)
		}
		if got := d.QuotaExhausted(); got != (kind == advisory.ErrorQuotaExhausted) {
			t.Errorf("%s: QuotaExhausted() = %v", kind, got)
		}
	}
}

func TestDecide_SkippedAdvisory(t *testing.T) {
	d := Decide(snap(24, 0, model.TrendNeutral), nil)
	if d.Direction != model.DirectionCall || d.Confidence != 78 {
		t.Errorf("got %s/%d, want CALL/78", d.Direction, d.Confidence)
	}
	if d.ErrorKind != advisory.ErrorNone {
		t.Errorf("error kind = %q, want none", d.ErrorKind)
	}
}
