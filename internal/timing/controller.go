// Package timing is the single scheduling authority of the pipeline.
//
// A Controller is driven by one 1 Hz ticker. Every tick first runs the
// countdown hooks, then evaluates the fire clock: when the wall clock
// reaches the trigger second of a minute that has not fired yet, the fire
// callback runs exactly once for that minute. The schedule is kept as an
// explicit next-fire timestamp, so a tick that drifts past the trigger
// second still fires within the same minute and overlapping ticks never
// fire twice.
package timing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trading-signalv1/internal/logger"
)

// Reason tells why a cycle was fired.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonManual    Reason = "manual"
	ReasonForced    Reason = "forced" // instrument or timeframe switch
)

// DefaultTriggerSecond is the second-of-minute at which cycles fire.
const DefaultTriggerSecond = 45

// Fire is passed to the fire callback.
type Fire struct {
	Reason Reason
	Window Window
}

// FireFunc starts a pipeline cycle. It is called on the ticker goroutine
// and must not block.
type FireFunc func(ctx context.Context, f Fire)

// TickFunc is called once per tick before the fire clock is evaluated.
type TickFunc func(now time.Time)

// Config parameterises a Controller.
type Config struct {
	TriggerSecond int           // 0-59, default 45
	Period        time.Duration // expiry - entry, default one minute
	Interval      time.Duration // ticker interval, default one second
}

// Controller owns the fire clock state: the next fire timestamp and the
// last fired minute marker.
type Controller struct {
	cfg  Config
	fire FireFunc
	now  func() time.Time
	log  *slog.Logger

	mu         sync.Mutex
	ticks      []TickFunc
	nextFire   time.Time
	lastFired  time.Time // minute start of the last scheduled fire
	missed     int
	firedCount int
}

// New creates a Controller that calls fire on schedule.
func New(cfg Config, fire FireFunc) *Controller {
	if cfg.TriggerSecond < 0 || cfg.TriggerSecond > 59 {
		cfg.TriggerSecond = DefaultTriggerSecond
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Controller{
		cfg:  cfg,
		fire: fire,
		now:  time.Now,
		log:  logger.Component("timing"),
	}
}

// WithClock replaces the wall clock. Intended for tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// OnTick registers a hook run on every tick. Hooks registered after Run
// started are picked up on the next tick.
func (c *Controller) OnTick(fn TickFunc) {
	c.mu.Lock()
	c.ticks = append(c.ticks, fn)
	c.mu.Unlock()
}

// Window computes the signal window for a cycle generated at now.
func (c *Controller) Window(now time.Time) Window {
	return WindowAt(now, c.cfg.Period)
}

// Run drives the controller until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.log.Info("timing controller started",
		slog.Int("trigger_second", c.cfg.TriggerSecond),
		slog.Duration("period", c.cfg.Period))

	c.Tick(ctx, c.now())
	for {
		select {
		case <-ctx.Done():
			c.log.Info("timing controller stopped")
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Tick runs the countdown hooks and evaluates the fire clock at now. It
// reports whether a scheduled fire happened.
func (c *Controller) Tick(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	hooks := append([]TickFunc(nil), c.ticks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(now)
	}

	w, ok := c.due(now)
	if !ok {
		return false
	}
	if c.fire != nil {
		c.fire(ctx, Fire{Reason: ReasonScheduled, Window: w})
	}
	return true
}

// due advances the fire clock and reports whether now fires.
func (c *Controller) due(now time.Time) (Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nextFire.IsZero() {
		c.nextFire = c.schedule(now)
	}
	if now.Before(c.nextFire) {
		return Window{}, false
	}

	minute := c.nextFire.Truncate(time.Minute)
	fired := false
	switch {
	case !now.Truncate(time.Minute).Equal(minute):
		// The tick arrived after the scheduled minute ended.
		c.missed++
		c.log.Warn("scheduled fire missed",
			slog.Time("scheduled", c.nextFire), slog.Time("now", now))
	case minute.Equal(c.lastFired):
		// Already fired for this minute.
	default:
		c.lastFired = minute
		c.firedCount++
		fired = true
	}
	c.nextFire = c.schedule(now)
	if !fired {
		return Window{}, false
	}
	return WindowAt(now, c.cfg.Period), true
}

// schedule returns the next fire instant at or after now, skipping a
// minute that already fired. A trigger second that started less than one
// second ago is still due.
func (c *Controller) schedule(now time.Time) time.Time {
	minute := now.Truncate(time.Minute)
	at := minute.Add(time.Duration(c.cfg.TriggerSecond) * time.Second)
	if minute.Equal(c.lastFired) || !now.Before(at.Add(time.Second)) {
		at = at.Add(time.Minute)
	}
	return at
}

// Trigger fires a manual cycle immediately. It bypasses the once-per-minute
// gate and leaves the fire clock untouched.
func (c *Controller) Trigger(ctx context.Context) Window {
	return c.TriggerWith(ctx, ReasonManual)
}

// TriggerWith is Trigger with an explicit reason.
func (c *Controller) TriggerWith(ctx context.Context, reason Reason) Window {
	w := WindowAt(c.now(), c.cfg.Period)
	if c.fire != nil {
		c.fire(ctx, Fire{Reason: reason, Window: w})
	}
	return w
}

// NextFire returns the next scheduled fire instant, or the zero time before
// the first tick.
func (c *Controller) NextFire() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextFire
}

// LastFiredMinute returns the start of the minute that last fired on
// schedule.
func (c *Controller) LastFiredMinute() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFired
}

// Stats returns the number of scheduled fires and missed minutes.
func (c *Controller) Stats() (fired, missed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firedCount, c.missed
}
