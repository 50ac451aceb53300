package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"trading-signalv1/internal/advisory"
	"trading-signalv1/internal/indicator"
	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/model"
	"trading-signalv1/internal/strategy"
	"trading-signalv1/internal/timing"
)

// Cycle outcomes, used as the metrics label.
const (
	OutcomeCommitted = "committed"
	OutcomeStale     = "stale"
	OutcomeSkipped   = "skipped"
)

// cycle is one run of the pipeline, pinned to the selection it started on.
type cycle struct {
	gen        uint64
	epoch      uint64
	instrument string
	timeframe  model.Timeframe
	fire       timing.Fire
}

// fire is the timing controller's callback. It starts a cycle in the
// background; the cycle outlives the caller's context.
func (p *Pipeline) fire(_ context.Context, f timing.Fire) {
	p.m.FiresTotal.WithLabelValues(string(f.Reason)).Inc()
	if f.Reason != timing.ReasonForced && !p.isActive() {
		p.m.CyclesTotal.WithLabelValues(OutcomeSkipped).Inc()
		p.log.Debug("cycle skipped, pipeline paused", slog.String("reason", string(f.Reason)))
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.log.Debug("cycle ignored, pipeline stopped", slog.String("reason", string(f.Reason)))
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	c, ctx := p.begin(p.baseCtx(), f)
	go func() {
		defer p.wg.Done()
		defer p.end(c)
		p.execute(ctx, c)
	}()
}

// RunCycle runs one cycle synchronously for the current selection. It
// returns the signal it produced and whether that signal was committed.
func (p *Pipeline) RunCycle(ctx context.Context, f timing.Fire) (*model.Signal, bool) {
	c, cctx := p.begin(ctx, f)
	defer p.end(c)
	return p.execute(cctx, c)
}

func (p *Pipeline) isActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// begin stamps a new generation and registers the cycle's cancel func so a
// selection change can abort it.
func (p *Pipeline) begin(parent context.Context, f timing.Fire) (cycle, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	p.mu.Lock()
	p.nextGen++
	c := cycle{
		gen:        p.nextGen,
		epoch:      p.epoch,
		instrument: p.instrument,
		timeframe:  p.timeframe,
		fire:       f,
	}
	p.cancels[c.gen] = cancel
	p.inflight++
	st := p.stateLocked()
	p.mu.Unlock()

	p.updates.Publish(st)
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(c.instrument, f.Window.Fired))
	return c, ctx
}

func (p *Pipeline) end(c cycle) {
	p.mu.Lock()
	cancel, ok := p.cancels[c.gen]
	delete(p.cancels, c.gen)
	current := c.epoch == p.epoch
	if current && p.inflight > 0 {
		p.inflight--
	}
	st := p.stateLocked()
	p.mu.Unlock()

	if ok {
		cancel()
	}
	if current {
		p.updates.Publish(st)
	}
}

// execute is fetch, compute, advise, decide, schedule.
func (p *Pipeline) execute(ctx context.Context, c cycle) (*model.Signal, bool) {
	start := p.now()
	log := p.log.With(logger.LogWithTrace(ctx)...).With(
		slog.String("instrument", c.instrument),
		slog.Uint64("generation", c.gen),
	)
	log.Debug("cycle started", slog.String("reason", string(c.fire.Reason)))

	candles, err := p.source.History(ctx, c.instrument, c.timeframe, p.cfg.HistoryLimit)
	if err != nil {
		if ctx.Err() != nil {
			return p.drop(log, c, nil)
		}
		p.m.DataFetchErrs.Inc()
		log.Warn("DATA_FETCH_ERROR, continuing with empty history", slog.Any("error", err))
		candles = nil
	}
	p.m.HistoryCandles.Set(float64(len(candles)))

	snap := indicator.Compute(candles)
	p.setTechnicals(c, snap)

	resp := p.advise(ctx, log, c, snap)
	if ctx.Err() != nil {
		return p.drop(log, c, nil)
	}

	d := strategy.Decide(snap, resp)
	now := p.now()
	w := c.fire.Window
	if !now.Before(w.Entry) {
		// The cycle ran past the minute it was fired in; anchor to the next one.
		w = p.ctrl.Window(now)
	}
	sig := &model.Signal{
		Market:           c.instrument,
		Timeframe:        c.timeframe,
		Direction:        d.Direction,
		Confidence:       d.Confidence,
		EntryTime:        w.Entry,
		ExpiryTime:       w.Expiry,
		SecondsRemaining: remaining(w.Entry, now),
		GeneratedAt:      now,
		Reasoning:        d.Reasoning,
		Source:           d.Source,
		Generation:       c.gen,
	}

	if !p.commit(c, sig, snap, now) {
		return p.drop(log, c, sig)
	}

	p.m.CyclesTotal.WithLabelValues(OutcomeCommitted).Inc()
	p.m.CycleDur.Observe(p.now().Sub(start).Seconds())
	p.m.SignalConfidence.Set(float64(sig.Confidence))
	p.m.SignalsTotal.WithLabelValues(string(sig.Direction), sig.Source).Inc()
	p.health.SetLastCycleAt(now)

	attrs := []any{
		slog.String("direction", string(sig.Direction)),
		slog.Int("confidence", sig.Confidence),
		slog.String("source", sig.Source),
		slog.Time("entry", sig.EntryTime),
		slog.Int("seconds_remaining", sig.SecondsRemaining),
	}
	if d.ErrorKind != advisory.ErrorNone {
		attrs = append(attrs, slog.String("advisory_error", string(d.ErrorKind)))
	}
	log.Info("signal committed", attrs...)
	return sig, true
}

func (p *Pipeline) drop(log *slog.Logger, c cycle, sig *model.Signal) (*model.Signal, bool) {
	p.m.StaleResults.Inc()
	p.m.CyclesTotal.WithLabelValues(OutcomeStale).Inc()
	log.Debug("stale cycle result dropped", slog.Uint64("epoch", c.epoch))
	return sig, false
}

// remaining is the whole seconds left until entry, rounded up and floored
// at zero.
func remaining(entry, now time.Time) int {
	d := entry.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// advise calls the advisory service unless it is disabled or the quota
// breaker is open. A nil response routes the decision through the fallback
// rules.
func (p *Pipeline) advise(ctx context.Context, log *slog.Logger, c cycle, snap model.TechnicalSnapshot) *advisory.Response {
	if p.advisor == nil {
		p.m.AdvisoryResults.WithLabelValues("disabled").Inc()
		return nil
	}
	if err := p.quota.Allow(); err != nil {
		p.m.AdvisoryResults.WithLabelValues("suppressed").Inc()
		log.Debug("advisory call suppressed", slog.Time("retry_at", p.quota.RetryAt()))
		return nil
	}

	start := p.now()
	resp := p.advisor.Advise(ctx, advisory.Request{
		Instrument: c.instrument,
		Timeframe:  c.timeframe,
		Snapshot:   snap,
	})
	p.m.AdvisoryDur.Observe(p.now().Sub(start).Seconds())

	// A cancelled cycle says nothing about the quota.
	if ctx.Err() != nil {
		return &resp
	}

	kind := "ok"
	if !resp.OK() {
		kind = string(resp.ErrorKind)
		log.Warn("advisory failed, using fallback rules",
			slog.String("kind", kind), slog.Any("error", resp.Err))
	}
	p.m.AdvisoryResults.WithLabelValues(kind).Inc()

	if resp.ErrorKind == advisory.ErrorQuotaExhausted {
		p.quota.Failure()
	} else {
		p.quota.Success()
	}
	return &resp
}

// setTechnicals publishes the snapshot early so the presentation sees the
// indicators before the advisory call returns.
func (p *Pipeline) setTechnicals(c cycle, snap model.TechnicalSnapshot) {
	p.mu.Lock()
	if c.epoch != p.epoch || c.gen < p.techGen || c.gen < p.committed {
		p.mu.Unlock()
		return
	}
	p.techGen = c.gen
	p.technicals = snap
	p.updatedAt = p.now()
	st := p.stateLocked()
	p.mu.Unlock()
	p.updates.Publish(st)
}

// commit installs sig as the current signal if c is still the freshest
// cycle of the current selection.
func (p *Pipeline) commit(c cycle, sig *model.Signal, snap model.TechnicalSnapshot, now time.Time) bool {
	p.mu.Lock()
	if c.epoch != p.epoch || c.gen <= p.committed {
		p.mu.Unlock()
		return false
	}
	p.committed = c.gen
	p.signal = sig.Clone()
	if c.gen >= p.techGen {
		p.techGen = c.gen
		p.technicals = snap
	}
	p.updatedAt = now
	st := p.stateLocked()
	p.mu.Unlock()

	p.updates.Publish(st)
	return true
}
