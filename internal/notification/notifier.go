// Package notification delivers degraded-mode alerts, such as advisory
// quota exhaustion and recovery, to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trading-signalv1/internal/logger"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertKind identifies the degraded-mode transition an alert reports.
type AlertKind string

const (
	KindQuotaExhausted AlertKind = "quota_exhausted"
	KindQuotaRecovered AlertKind = "quota_recovered"
)

// Mode is where signal verdicts come from while the alert holds.
type Mode string

const (
	ModeAdvisory Mode = "advisory"
	ModeFallback Mode = "fallback"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Kind       AlertKind  `json:"kind"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Instrument string     `json:"instrument,omitempty"`
	Mode       Mode       `json:"mode,omitempty"`
	RetryAt    time.Time  `json:"retry_at,omitzero"`
	At         time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// QuotaExhausted is raised at when the advisory quota breaker opens. The
// next advisory call is attempted at retryAt.
func QuotaExhausted(instrument string, at, retryAt time.Time) Alert {
	return Alert{
		Level:      AlertWarning,
		Kind:       KindQuotaExhausted,
		Title:      "Advisory quota exhausted",
		Message:    fmt.Sprintf("Signals continue from the fallback engine. Next advisory probe at %s.", retryAt.UTC().Format(time.RFC3339)),
		Instrument: instrument,
		Mode:       ModeFallback,
		RetryAt:    retryAt.UTC(),
		At:         at.UTC(),
	}
}

// QuotaRecovered is raised at when the advisory quota breaker closes again.
func QuotaRecovered(instrument string, at time.Time) Alert {
	return Alert{
		Level:      AlertInfo,
		Kind:       KindQuotaRecovered,
		Title:      "Advisory quota recovered",
		Message:    "Advisory verdicts resumed.",
		Instrument: instrument,
		Mode:       ModeAdvisory,
		At:         at.UTC(),
	}
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Component("notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	lvl := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		lvl = slog.LevelWarn
	case AlertCritical:
		lvl = slog.LevelError
	}
	n.log.Log(ctx, lvl, alert.Title,
		append(logger.LogWithTrace(ctx),
			slog.String("kind", string(alert.Kind)),
			slog.String("message", alert.Message),
			slog.String("instrument", alert.Instrument),
			slog.String("mode", string(alert.Mode)))...)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers alerts on a background goroutine so callers on hot paths
// never wait on a network round trip. Alerts beyond the queue size are
// dropped.
type Async struct {
	next    Notifier
	queue   chan Alert
	timeout time.Duration
	log     *slog.Logger
}

// NewAsync wraps next. Call Run to start delivery.
func NewAsync(next Notifier, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Async{
		next:    next,
		queue:   make(chan Alert, queueSize),
		timeout: 10 * time.Second,
		log:     logger.Component("notify"),
	}
}

// Send enqueues the alert. It only fails when the queue is full.
func (a *Async) Send(_ context.Context, alert Alert) error {
	select {
	case a.queue <- alert:
		return nil
	default:
		return errors.New("notification: queue full, alert dropped")
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert := <-a.queue:
			sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.next.Send(sendCtx, alert); err != nil {
				a.log.Warn("alert delivery failed", slog.String("title", alert.Title), slog.Any("error", err))
			}
			cancel()
		}
	}
}
