// Package pipeline is the orchestrator. Each cycle fetches history for the
// selected instrument, computes the technical snapshot, asks the advisory
// service (unless quota is exhausted), decides, and commits a new Signal
// anchored to the next minute boundary.
//
// Cycles run concurrently and are stamped with a generation id. A result is
// committed only when its generation is newer than the last committed one
// and the instrument selection has not changed since the cycle started;
// anything else is dropped as stale. Switching the instrument or timeframe
// cancels in-flight cycles, tears the price subscription down before
// subscribing anew, and forces an immediate cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trading-signalv1/internal/advisory"
	"trading-signalv1/internal/breaker"
	"trading-signalv1/internal/bus"
	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/metrics"
	"trading-signalv1/internal/model"
	"trading-signalv1/internal/notification"
	"trading-signalv1/internal/timing"
)

var (
	ErrUnknownInstrument = marketdata.ErrUnknownInstrument
	ErrInvalidTimeframe  = errors.New("pipeline: invalid timeframe")
	ErrAlreadyStarted    = errors.New("pipeline: already started")
)

// DefaultQuotaCoolDown is how long advisory calls stay suppressed after the
// service reports quota exhaustion.
const DefaultQuotaCoolDown = 60 * time.Second

// Advisor is the advisory client as seen by the pipeline.
type Advisor interface {
	Advise(ctx context.Context, req advisory.Request) advisory.Response
}

// Config parameterises a Pipeline.
type Config struct {
	Instrument    string
	Timeframe     model.Timeframe
	Catalogue     []model.Instrument // default model.DefaultInstruments()
	HistoryLimit  int                // default 50
	QuotaCoolDown time.Duration      // default 60s
	Timing        timing.Config
	Paused        bool // start inactive
	UpdateBuffer  int  // per-subscriber buffer of state updates
}

// Deps are the collaborators of a Pipeline. Source is required.
type Deps struct {
	Source   marketdata.Source
	Advisor  Advisor // nil disables advisory calls
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Clock    func() time.Time
}

// Pipeline holds the current signal of one instrument selection.
type Pipeline struct {
	cfg      Config
	source   marketdata.Source
	advisor  Advisor
	notifier notification.Notifier
	m        *metrics.Metrics
	health   *metrics.HealthStatus
	now      func() time.Time
	log      *slog.Logger

	ctrl    *timing.Controller
	quota   *breaker.Breaker
	updates *bus.FanOut[model.State]

	quotaExhausted atomic.Bool
	wg             sync.WaitGroup
	switchMu       sync.Mutex // serialises reselect

	mu         sync.Mutex
	base       context.Context
	started    bool
	stopped    bool // set by Stop; fire starts no cycles after it
	instrument string
	timeframe  model.Timeframe
	active     bool
	epoch      uint64 // bumped on every instrument/timeframe change
	nextGen    uint64
	committed  uint64 // generation of the current signal
	techGen    uint64 // generation of the current technicals
	inflight   int    // cycles of the current epoch still running
	cancels    map[uint64]context.CancelFunc
	sub        marketdata.Subscription
	signal     *model.Signal
	technicals model.TechnicalSnapshot
	livePrice  float64
	updatedAt  time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: nil market data source")
	}
	if len(cfg.Catalogue) == 0 {
		cfg.Catalogue = model.DefaultInstruments()
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = model.Timeframe1m
	}
	if !cfg.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, cfg.Timeframe)
	}
	if cfg.Instrument == "" {
		cfg.Instrument = cfg.Catalogue[0].Symbol
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = marketdata.DefaultHistoryLimit
	}
	if cfg.QuotaCoolDown <= 0 {
		cfg.QuotaCoolDown = DefaultQuotaCoolDown
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	if deps.Health == nil {
		deps.Health = metrics.NewHealthStatus()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	p := &Pipeline{
		cfg:        cfg,
		source:     deps.Source,
		advisor:    deps.Advisor,
		notifier:   deps.Notifier,
		m:          deps.Metrics,
		health:     deps.Health,
		now:        deps.Clock,
		log:        logger.Component("pipeline"),
		updates:    bus.New[model.State](cfg.UpdateBuffer),
		base:       context.Background(),
		instrument: cfg.Instrument,
		timeframe:  cfg.Timeframe,
		active:     !cfg.Paused,
		cancels:    make(map[uint64]context.CancelFunc),
		technicals: model.NeutralSnapshot(),
	}
	if !p.known(cfg.Instrument) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, cfg.Instrument)
	}

	p.updates.OnDrop = func(id int) {
		p.m.FanoutDropsTotal.WithLabelValues(fmt.Sprint(id)).Inc()
	}

	p.quota = breaker.New(1, cfg.QuotaCoolDown).WithClock(deps.Clock)
	p.quota.OnStateChange = p.onQuotaState

	p.ctrl = timing.New(cfg.Timing, p.fire).WithClock(deps.Clock)
	p.ctrl.OnTick(func(time.Time) { p.Countdown() })

	p.health.SetInstrument(cfg.Instrument)
	p.health.SetAdvisoryEnabled(deps.Advisor != nil)
	return p, nil
}

// Timing returns the scheduling authority driving this pipeline.
func (p *Pipeline) Timing() *timing.Controller { return p.ctrl }

// Markets returns the instrument catalogue.
func (p *Pipeline) Markets() []model.Instrument {
	return append([]model.Instrument(nil), p.cfg.Catalogue...)
}

func (p *Pipeline) known(symbol string) bool {
	for _, in := range p.cfg.Catalogue {
		if in.Symbol == symbol {
			return true
		}
	}
	return false
}

// Subscribe returns a channel of state updates and its cancel func.
func (p *Pipeline) Subscribe() (<-chan model.State, func()) {
	return p.updates.Subscribe()
}

// Run starts the pipeline and drives the timing controller until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()
	return p.ctrl.Run(ctx)
}

// Start subscribes to the selected instrument and forces the first cycle.
// Cycles and subscriptions live until Stop or until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.stopped = false
	p.base = ctx
	epoch, instrument := p.epoch, p.instrument
	p.mu.Unlock()

	p.log.Info("pipeline started", slog.String("instrument", instrument), slog.String("timeframe", string(p.Timeframe())))
	p.subscribe(epoch, instrument)
	p.ctrl.TriggerWith(ctx, timing.ReasonForced)
	return nil
}

// Stop closes the price subscription, cancels in-flight cycles and waits for
// them to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.started = false
	p.stopped = true
	sub := p.sub
	p.sub = nil
	cancels := p.takeCancelsLocked()
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	p.wg.Wait()
}

// Wait blocks until every in-flight cycle has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// ForceRefresh fires a manual cycle now, bypassing the once-per-minute gate.
func (p *Pipeline) ForceRefresh(ctx context.Context) timing.Window {
	return p.ctrl.Trigger(ctx)
}

// SwitchInstrument selects another instrument from the catalogue.
func (p *Pipeline) SwitchInstrument(ctx context.Context, symbol string) error {
	if !p.known(symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return p.reselect(ctx, symbol, "")
}

// SetTimeframe selects another timeframe. It rebuilds the selection exactly
// like an instrument switch.
func (p *Pipeline) SetTimeframe(ctx context.Context, tf model.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	return p.reselect(ctx, "", tf)
}

// SetActive pauses or resumes scheduled and manual cycles. The countdown
// and live price keep running while paused.
func (p *Pipeline) SetActive(active bool) {
	p.mu.Lock()
	changed := p.active != active
	p.active = active
	st := p.stateLocked()
	p.mu.Unlock()
	if changed {
		p.log.Info("pipeline active state changed", slog.Bool("active", active))
		p.updates.Publish(st)
	}
}

// reselect switches instrument and/or timeframe (empty means unchanged).
func (p *Pipeline) reselect(ctx context.Context, instrument string, tf model.Timeframe) error {
	p.switchMu.Lock()
	defer p.switchMu.Unlock()

	p.mu.Lock()
	if instrument == "" {
		instrument = p.instrument
	}
	if tf == "" {
		tf = p.timeframe
	}
	if instrument == p.instrument && tf == p.timeframe {
		p.mu.Unlock()
		return nil
	}
	prev := p.instrument
	p.epoch++
	epoch := p.epoch
	p.instrument = instrument
	p.timeframe = tf
	p.signal = nil
	p.technicals = model.NeutralSnapshot()
	p.livePrice = 0
	p.inflight = 0
	cancels := p.takeCancelsLocked()
	old := p.sub
	p.sub = nil
	started := p.started
	st := p.stateLocked()
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	// The old stream must be gone before the new one starts.
	if old != nil {
		old.Close()
	}
	p.health.SetInstrument(instrument)
	p.updates.Publish(st)

	p.log.Info("selection changed",
		slog.String("from", prev), slog.String("instrument", instrument),
		slog.String("timeframe", string(tf)), slog.Int("cancelled_cycles", len(cancels)))

	if started {
		p.subscribe(epoch, instrument)
	}
	p.ctrl.TriggerWith(ctx, timing.ReasonForced)
	return nil
}

func (p *Pipeline) takeCancelsLocked() []context.CancelFunc {
	out := make([]context.CancelFunc, 0, len(p.cancels))
	for gen, cancel := range p.cancels {
		out = append(out, cancel)
		delete(p.cancels, gen)
	}
	return out
}

// subscribe opens the price stream of instrument for epoch. A subscription
// that lost a race with a newer switch is closed immediately.
func (p *Pipeline) subscribe(epoch uint64, instrument string) {
	sub, err := p.source.Subscribe(p.baseCtx(), instrument, func(price float64) {
		p.onPrice(epoch, price)
	})
	if err != nil {
		p.health.SetStreamConnected(false)
		p.log.Error("subscribe failed", slog.String("instrument", instrument), slog.Any("error", err))
		return
	}
	p.m.Subscriptions.Inc()

	p.mu.Lock()
	if p.epoch != epoch || !p.started {
		p.mu.Unlock()
		sub.Close()
		return
	}
	p.sub = sub
	p.mu.Unlock()
}

func (p *Pipeline) onPrice(epoch uint64, price float64) {
	now := p.now()
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	p.livePrice = price
	p.updatedAt = now
	st := p.stateLocked()
	p.mu.Unlock()

	p.m.LiveTicks.Inc()
	p.health.SetLastTickTime(now)
	p.updates.Publish(st)
}

// Countdown decrements the current signal's seconds remaining, floored at
// zero. The timing controller calls it once per tick.
func (p *Pipeline) Countdown() {
	p.mu.Lock()
	changed := timing.Countdown(p.signal)
	var st model.State
	if changed {
		p.updatedAt = p.now()
		st = p.stateLocked()
	}
	p.mu.Unlock()
	if changed {
		p.updates.Publish(st)
	}
}

// State returns a copy of the presentation view.
func (p *Pipeline) State() model.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Signal returns a copy of the current signal, or nil.
func (p *Pipeline) Signal() *model.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signal.Clone()
}

// Instrument returns the selected instrument.
func (p *Pipeline) Instrument() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instrument
}

// Timeframe returns the selected timeframe.
func (p *Pipeline) Timeframe() model.Timeframe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeframe
}

// QuotaExhausted reports whether advisory calls are currently suppressed.
func (p *Pipeline) QuotaExhausted() bool { return p.quotaExhausted.Load() }

func (p *Pipeline) stateLocked() model.State {
	return model.State{
		Instrument:     p.instrument,
		Timeframe:      p.timeframe,
		Active:         p.active,
		Loading:        p.inflight > 0,
		QuotaExhausted: p.quotaExhausted.Load(),
		Signal:         p.signal.Clone(),
		Technicals:     p.technicals,
		LivePrice:      p.livePrice,
		PriceDecimals:  model.PriceDecimals(p.instrument),
		UpdatedAt:      p.updatedAt,
	}
}

func (p *Pipeline) baseCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base
}

// onQuotaState runs under the breaker's lock and must not call back into
// the breaker.
func (p *Pipeline) onQuotaState(from, to breaker.State) {
	exhausted := to != breaker.StateClosed
	p.quotaExhausted.Store(exhausted)
	p.health.SetQuotaExhausted(exhausted)
	p.m.QuotaBreakerState.Set(float64(to))

	instrument := p.Instrument()
	ctx := p.baseCtx()
	switch {
	case from == breaker.StateClosed && to == breaker.StateOpen:
		p.m.QuotaBreakerTrips.Inc()
		now := p.now()
		retryAt := now.Add(p.cfg.QuotaCoolDown)
		p.log.Warn("advisory quota exhausted, suppressing calls",
			slog.String("instrument", instrument), slog.Time("retry_at", retryAt))
		p.alert(ctx, notification.QuotaExhausted(instrument, now, retryAt))
	case to == breaker.StateClosed:
		p.log.Info("advisory quota recovered", slog.String("instrument", instrument))
		p.alert(ctx, notification.QuotaRecovered(instrument, p.now()))
	}
}

func (p *Pipeline) alert(ctx context.Context, a notification.Alert) {
	if err := p.notifier.Send(ctx, a); err != nil {
		p.log.Warn("alert not delivered", slog.String("title", a.Title), slog.Any("error", err))
	}
}
