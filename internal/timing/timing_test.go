package timing

import (
	"context"
	"sync"
	"testing"
	"time"

	"trading-signalv1/internal/model"
)

// minute M used throughout: 2026-03-02 10:07:00 UTC
var minuteM = time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	fires []Fire
}

func (r *recorder) fire(_ context.Context, f Fire) {
	r.mu.Lock()
	r.fires = append(r.fires, f)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func sec(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// ────────────────────────────────────────────────────────────
// Window
// ────────────────────────────────────────────────────────────

func TestWindowAt_FireAtSecond45(t *testing.T) {
	w := WindowAt(minuteM.Add(45*time.Second), time.Minute)

	if w.Wait != 15 {
		t.Errorf("wait = %d, want 15", w.Wait)
	}
	if want := minuteM.Add(time.Minute); !w.Entry.Equal(want) {
		t.Errorf("entry = %v, want %v", w.Entry, want)
	}
	if want := minuteM.Add(2 * time.Minute); !w.Expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", w.Expiry, want)
	}
}

func TestWindowAt_AnchorsToNextMinute(t *testing.T) {
	for _, s := range []float64{0, 0.4, 12, 30.9, 59, 59.999} {
		now := minuteM.Add(sec(s))
		w := WindowAt(now, time.Minute)
		if want := minuteM.Add(time.Minute); !w.Entry.Equal(want) {
			t.Errorf("at +%.3fs: entry = %v, want %v", s, w.Entry, want)
		}
		if got := w.Expiry.Sub(w.Entry); got != time.Minute {
			t.Errorf("at +%.3fs: expiry - entry = %v", s, got)
		}
		if !w.Entry.After(now) {
			t.Errorf("at +%.3fs: entry not after fire time", s)
		}
	}
}

func TestWindowAt_CustomPeriod(t *testing.T) {
	w := WindowAt(minuteM.Add(50*time.Second), 5*time.Minute)
	if got := w.Expiry.Sub(w.Entry); got != 5*time.Minute {
		t.Errorf("expiry - entry = %v, want 5m", got)
	}
	if w0 := WindowAt(minuteM, 0); w0.Expiry.Sub(w0.Entry) != time.Minute {
		t.Errorf("zero period did not default to one minute")
	}
}

// ────────────────────────────────────────────────────────────
// Countdown
// ────────────────────────────────────────────────────────────

func TestCountdown_FloorsAtZero(t *testing.T) {
	w := WindowAt(minuteM.Add(45*time.Second), time.Minute)
	sig := &model.Signal{Market: "EURUSD_otc", Direction: model.DirectionCall, Confidence: 85,
		EntryTime: w.Entry, ExpiryTime: w.Expiry, SecondsRemaining: w.Wait}
	orig := *sig

	// 15 ticks reach the entry, another 60 reach the expiry.
	for i := 1; i <= 75; i++ {
		Countdown(sig)
		if sig.SecondsRemaining < 0 {
			t.Fatalf("tick %d: countdown went negative", i)
		}
		if i == 15 && sig.SecondsRemaining != 0 {
			t.Errorf("at entry: remaining = %d, want 0", sig.SecondsRemaining)
		}
	}
	if sig.SecondsRemaining != 0 {
		t.Errorf("60s after entry: remaining = %d, want 0", sig.SecondsRemaining)
	}
	if Countdown(sig) {
		t.Error("countdown reported a change at zero")
	}

	sig.SecondsRemaining = orig.SecondsRemaining
	if *sig != orig {
		t.Errorf("countdown touched fields other than SecondsRemaining: %+v", sig)
	}
	if Countdown(nil) {
		t.Error("nil signal reported a change")
	}
}

// ────────────────────────────────────────────────────────────
// Fire clock
// ────────────────────────────────────────────────────────────

func TestController_FiresOncePerMinute(t *testing.T) {
	rec := &recorder{}
	c := New(Config{TriggerSecond: 45}, rec.fire)
	ctx := context.Background()

	for s := 40; s <= 44; s++ {
		if c.Tick(ctx, minuteM.Add(time.Duration(s)*time.Second)) {
			t.Fatalf("fired early at second %d", s)
		}
	}
	if !c.Tick(ctx, minuteM.Add(45*time.Second)) {
		t.Fatal("did not fire at second 45")
	}
	// Overlapping ticks within the same minute must not fire again.
	for _, d := range []float64{45.2, 45.9, 46, 50, 59.9} {
		if c.Tick(ctx, minuteM.Add(sec(d))) {
			t.Errorf("fired twice in minute M at +%.1fs", d)
		}
	}
	if rec.count() != 1 {
		t.Fatalf("fires = %d, want 1", rec.count())
	}

	f := rec.fires[0]
	if f.Reason != ReasonScheduled {
		t.Errorf("reason = %s", f.Reason)
	}
	if f.Window.Wait != 15 || !f.Window.Entry.Equal(minuteM.Add(time.Minute)) {
		t.Errorf("window = %+v", f.Window)
	}
	if !c.LastFiredMinute().Equal(minuteM) {
		t.Errorf("last fired minute = %v", c.LastFiredMinute())
	}
	if want := minuteM.Add(time.Minute + 45*time.Second); !c.NextFire().Equal(want) {
		t.Errorf("next fire = %v, want %v", c.NextFire(), want)
	}

	// Next minute fires again.
	if !c.Tick(ctx, minuteM.Add(time.Minute+45*time.Second)) {
		t.Error("did not fire in minute M+1")
	}
}

func TestController_DriftedTickStillFires(t *testing.T) {
	rec := &recorder{}
	c := New(Config{TriggerSecond: 45}, rec.fire)
	ctx := context.Background()

	c.Tick(ctx, minuteM.Add(sec(44.98)))
	// The ticker skipped over second 45 entirely.
	if !c.Tick(ctx, minuteM.Add(sec(46.01))) {
		t.Fatal("drifted tick did not fire")
	}
	w := rec.fires[0].Window
	if w.Wait != 14 || !w.Entry.Equal(minuteM.Add(time.Minute)) {
		t.Errorf("window = %+v", w)
	}
}

func TestController_MissedMinuteIsSkipped(t *testing.T) {
	rec := &recorder{}
	c := New(Config{TriggerSecond: 45}, rec.fire)
	ctx := context.Background()

	c.Tick(ctx, minuteM.Add(30*time.Second))
	// Process stalled across the minute boundary.
	if c.Tick(ctx, minuteM.Add(time.Minute+10*time.Second)) {
		t.Fatal("fired for a minute that had already ended")
	}
	_, missed := c.Stats()
	if missed != 1 {
		t.Errorf("missed = %d, want 1", missed)
	}
	if !c.Tick(ctx, minuteM.Add(time.Minute+45*time.Second)) {
		t.Error("did not resume firing after a missed minute")
	}
}

func TestController_StartAfterTriggerWaitsForNextMinute(t *testing.T) {
	rec := &recorder{}
	c := New(Config{TriggerSecond: 45}, rec.fire)

	if c.Tick(context.Background(), minuteM.Add(50*time.Second)) {
		t.Fatal("fired when started after the trigger second")
	}
	if want := minuteM.Add(time.Minute + 45*time.Second); !c.NextFire().Equal(want) {
		t.Errorf("next fire = %v, want %v", c.NextFire(), want)
	}
}

func TestController_ManualTriggerBypassesGate(t *testing.T) {
	rec := &recorder{}
	now := minuteM.Add(45 * time.Second)
	c := New(Config{TriggerSecond: 45}, rec.fire).WithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Tick(ctx, now)
	marker := c.LastFiredMinute()
	next := c.NextFire()

	now = minuteM.Add(sec(47.5))
	w := c.Trigger(ctx)
	c.Trigger(ctx)
	if rec.count() != 3 {
		t.Fatalf("fires = %d, want 3", rec.count())
	}
	if rec.fires[1].Reason != ReasonManual {
		t.Errorf("reason = %s", rec.fires[1].Reason)
	}
	if w.Wait != 13 {
		t.Errorf("manual wait = %d, want 13", w.Wait)
	}
	if !c.LastFiredMinute().Equal(marker) || !c.NextFire().Equal(next) {
		t.Error("manual trigger touched the fire clock")
	}
	if c.Tick(ctx, now) {
		t.Error("scheduled fire repeated after manual triggers")
	}
}

func TestController_ManualTriggerDoesNotConsumeMinute(t *testing.T) {
	rec := &recorder{}
	now := minuteM.Add(10 * time.Second)
	c := New(Config{TriggerSecond: 45}, rec.fire).WithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Tick(ctx, now)
	c.Trigger(ctx)
	if !c.Tick(ctx, minuteM.Add(45*time.Second)) {
		t.Error("manual trigger suppressed the scheduled fire")
	}
}

func TestController_TickHooksRunEveryTick(t *testing.T) {
	c := New(Config{}, nil)
	var seen []time.Time
	c.OnTick(func(now time.Time) { seen = append(seen, now) })

	for s := 0; s < 3; s++ {
		c.Tick(context.Background(), minuteM.Add(time.Duration(s)*time.Second))
	}
	if len(seen) != 3 {
		t.Errorf("hook ran %d times, want 3", len(seen))
	}
}

func TestController_IndependentInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ca := New(Config{TriggerSecond: 45}, a.fire)
	cb := New(Config{TriggerSecond: 45}, b.fire)
	at := minuteM.Add(45 * time.Second)

	ca.Tick(context.Background(), at)
	cb.Tick(context.Background(), at)
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("fires a=%d b=%d, want 1 each", a.count(), b.count())
	}
}

func TestController_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Config{Interval: 5 * time.Millisecond}, nil)

	ticked := make(chan struct{}, 1)
	c.OnTick(func(time.Time) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("run never ticked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestNew_InvalidTriggerSecondDefaults(t *testing.T) {
	rec := &recorder{}
	c := New(Config{TriggerSecond: 75}, rec.fire)
	if !c.Tick(context.Background(), minuteM.Add(45*time.Second)) {
		t.Error("invalid trigger second did not default to 45")
	}
}
