// Package metrics exposes Prometheus metrics and the /healthz status of the
// signal service.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-signalv1/internal/logger"
)

// Metrics holds all Prometheus metrics of the signal pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	// Cycles
	FiresTotal     *prometheus.CounterVec // labels: reason=scheduled|manual|forced
	CyclesTotal    *prometheus.CounterVec // labels: outcome=committed|stale|skipped
	CycleDur       prometheus.Histogram
	StaleResults   prometheus.Counter
	DataFetchErrs  prometheus.Counter
	HistoryCandles prometheus.Gauge

	// Advisory
	AdvisoryResults *prometheus.CounterVec // labels: kind=ok|TIMEOUT|QUOTA_EXHAUSTED|OTHER|suppressed|disabled
	AdvisoryDur     prometheus.Histogram

	// Quota circuit breaker
	QuotaBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	QuotaBreakerTrips prometheus.Counter

	// Signal
	SignalConfidence prometheus.Gauge
	SignalsTotal     *prometheus.CounterVec // labels: direction, source

	// Market data
	LiveTicks        prometheus.Counter
	StreamReconnects prometheus.Counter
	Subscriptions    prometheus.Counter

	// Fan-out and sinks
	FanoutDropsTotal   *prometheus.CounterVec // labels: subscriber
	RedisPublishDur    prometheus.Histogram
	RedisPublishErrors prometheus.Counter
	WSClients          prometheus.Gauge
}

// NewMetrics creates all metrics on a dedicated registry, so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		FiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fires_total",
			Help: "Pipeline cycles started, by reason",
		}, []string{"reason"}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_cycles_total",
			Help: "Pipeline cycles finished, by outcome",
		}, []string{"outcome"}),
		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_cycle_duration_seconds",
			Help:    "Fetch to commit latency of a pipeline cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12},
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_stale_results_total",
			Help: "Cycle results dropped because a newer generation or selection exists",
		}),
		DataFetchErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_data_fetch_errors_total",
			Help: "History fetches that failed and degraded to an empty candle window",
		}),
		HistoryCandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_history_candles",
			Help: "Number of candles in the last fetched window",
		}),

		AdvisoryResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_advisory_results_total",
			Help: "Advisory call results by kind",
		}, []string{"kind"}),
		AdvisoryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_advisory_duration_seconds",
			Help:    "Advisory call latency including the timeout race",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 6, 8, 10},
		}),

		QuotaBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_quota_breaker_state",
			Help: "Advisory quota circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		QuotaBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_quota_breaker_trips_total",
			Help: "Times the advisory quota circuit breaker tripped open",
		}),

		SignalConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_signal_confidence",
			Help: "Confidence of the current signal",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_signals_total",
			Help: "Committed signals by direction and source",
		}, []string{"direction", "source"}),

		LiveTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_live_ticks_total",
			Help: "Live price updates received",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_stream_reconnects_total",
			Help: "Live price stream reconnection attempts",
		}),
		Subscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_subscriptions_total",
			Help: "Market data subscriptions established",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signald_fanout_drops_total",
			Help: "State updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signald_redis_publish_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signald_redis_publish_errors_total",
			Help: "Redis publishes that failed",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signald_ws_clients",
			Help: "Connected presentation websocket clients",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FiresTotal,
		m.CyclesTotal,
		m.CycleDur,
		m.StaleResults,
		m.DataFetchErrs,
		m.HistoryCandles,
		m.AdvisoryResults,
		m.AdvisoryDur,
		m.QuotaBreakerState,
		m.QuotaBreakerTrips,
		m.SignalConfidence,
		m.SignalsTotal,
		m.LiveTicks,
		m.StreamReconnects,
		m.Subscriptions,
		m.FanoutDropsTotal,
		m.RedisPublishDur,
		m.RedisPublishErrors,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	Instrument      string    `json:"instrument"`
	StreamConnected bool      `json:"stream_connected"`
	LastTickTime    time.Time `json:"last_tick_time"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	QuotaExhausted  bool      `json:"quota_exhausted"`
	AdvisoryEnabled bool      `json:"advisory_enabled"`
	RedisEnabled    bool      `json:"redis_enabled"`
	RedisConnected  bool      `json:"redis_connected"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetInstrument(v string) {
	h.mu.Lock()
	h.Instrument = v
	h.StreamConnected = false
	h.LastTickTime = time.Time{}
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.StreamConnected = true
	h.mu.Unlock()
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleAt(t time.Time) {
	h.mu.Lock()
	h.LastCycleAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetQuotaExhausted(v bool) {
	h.mu.Lock()
	h.QuotaExhausted = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetAdvisoryEnabled(v bool) {
	h.mu.Lock()
	h.AdvisoryEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	if rdb == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.CheckRedis(probeCtx, rdb)
			cancel()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Status is the /healthz body.
type Status struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	Instrument      string  `json:"instrument"`
	StreamConnected bool    `json:"stream_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	LastCycleAt     string  `json:"last_cycle_at"`
	QuotaExhausted  bool    `json:"quota_exhausted"`
	AdvisoryEnabled bool    `json:"advisory_enabled"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Snapshot evaluates the current status and its HTTP code. The service is
// degraded while the price stream is down, the advisory quota is exhausted
// or an enabled Redis is unreachable. Signals keep flowing in all of those
// states, so it is never reported unhealthy.
func (h *HealthStatus) Snapshot() (Status, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.StreamConnected || h.QuotaExhausted || (h.RedisEnabled && !h.RedisConnected) {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	return Status{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Instrument:      h.Instrument,
		StreamConnected: h.StreamConnected,
		LastTickTime:    formatTime(h.LastTickTime),
		TickAge:         tickAge,
		LastCycleAt:     formatTime(h.LastCycleAt),
		QuotaExhausted:  h.QuotaExhausted,
		AdvisoryEnabled: h.AdvisoryEnabled,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LastCheckAt:     formatTime(h.LastCheckAt),
	}, code
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
	log    *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(m, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.Component("metrics"),
	}
}

// Handler returns the /metrics + /healthz mux.
func Handler(m *Metrics, health *HealthStatus) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	mux.Handle("/healthz", health)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
