// cmd/signald runs the signal pipeline: market data, indicators, advisory
// with rule fallback, the minute-aligned timing controller, and the
// presentation API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-signalv1/config"
	"trading-signalv1/internal/advisory"
	"trading-signalv1/internal/gateway"
	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/marketdata/live"
	"trading-signalv1/internal/marketdata/sim"
	"trading-signalv1/internal/metrics"
	"trading-signalv1/internal/notification"
	"trading-signalv1/internal/pipeline"
	redisstore "trading-signalv1/internal/store/redis"
	"trading-signalv1/internal/timing"
)

func main() {
	configPath := flag.String("config", os.Getenv("SIGNALD_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signald: %v\n", err)
		os.Exit(1)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signald: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Service, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("signald stopped", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("signald stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	liveSrc := live.New(live.Config{
		RESTURL:       cfg.MarketData.BinanceREST,
		WSURL:         cfg.MarketData.BinanceWS,
		TickServerURL: cfg.MarketData.TickServerURL,
		HTTPTimeout:   cfg.MarketData.HTTPTimeout,
		Stream: live.StreamConfig{
			ReconnectDelay:    cfg.MarketData.ReconnectDelay,
			MaxReconnectDelay: cfg.MarketData.MaxReconnectDelay,
		},
	})
	liveSrc.OnReconnect = func() {
		m.StreamReconnects.Inc()
		health.SetStreamConnected(false)
	}
	source := &marketdata.Selector{
		Live:      liveSrc,
		Simulated: sim.New(sim.WithInterval(cfg.MarketData.SimInterval)),
	}

	var advisor pipeline.Advisor
	if cfg.AdvisoryActive() {
		gen, err := advisory.NewGeminiGenerator(ctx, cfg.Advisory.APIKey, cfg.Advisory.Model)
		if err != nil {
			return err
		}
		advisor = advisory.NewClient(gen, cfg.Advisory.Timeout)
		slog.Info("advisory enabled", slog.String("model", cfg.Advisory.Model), slog.Duration("timeout", cfg.Advisory.Timeout))
	} else {
		slog.Warn("advisory disabled, signals come from the fallback rules only")
	}

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	alerts := notification.NewAsync(notifiers, cfg.Notify.QueueSize)

	p, err := pipeline.New(pipeline.Config{
		Instrument:    cfg.Signal.Instrument,
		Timeframe:     cfg.Timeframe(),
		Catalogue:     cfg.Instruments,
		HistoryLimit:  cfg.Signal.HistoryLimit,
		QuotaCoolDown: cfg.Signal.QuotaCoolDown,
		Paused:        cfg.Signal.Paused,
		Timing: timing.Config{
			TriggerSecond: cfg.Signal.TriggerSecond,
			Period:        cfg.Signal.CandlePeriod,
		},
	}, pipeline.Deps{
		Source:   source,
		Advisor:  advisor,
		Notifier: alerts,
		Metrics:  m,
		Health:   health,
	})
	if err != nil {
		return err
	}

	gw := gateway.NewServer(gateway.Config{
		Addr:          cfg.HTTPAddr,
		RefreshLimit:  cfg.Gateway.RefreshLimit,
		RefreshPeriod: cfg.Gateway.RefreshPeriod,
	}, p, m)
	ms := metrics.NewServer(cfg.MetricsAddr, m, health)

	g, gctx := errgroup.WithContext(ctx)

	wsUpdates, cancelWS := p.Subscribe()
	defer cancelWS()

	if cfg.Redis.Enabled {
		pub, err := redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Prefix:    cfg.Redis.Prefix,
			LatestTTL: cfg.Redis.LatestTTL,
		})
		if err != nil {
			return err
		}
		defer pub.Close()
		pub.OnPublish = func(d time.Duration) { m.RedisPublishDur.Observe(d.Seconds()) }
		pub.OnError = func(error) { m.RedisPublishErrors.Inc() }
		health.SetRedisEnabled(true)
		health.StartLivenessChecker(gctx, pub.Client(), 10*time.Second)

		redisUpdates, cancelRedis := p.Subscribe()
		defer cancelRedis()
		g.Go(func() error { return pub.Run(gctx, redisUpdates) })
	}

	g.Go(func() error { return alerts.Run(gctx) })
	g.Go(func() error { return ms.Run(gctx) })
	g.Go(func() error { return gw.Run(gctx, wsUpdates) })
	g.Go(func() error { return p.Run(gctx) })

	slog.Info("signald started",
		slog.String("instrument", cfg.Signal.Instrument),
		slog.String("timeframe", cfg.Signal.Timeframe),
		slog.Int("trigger_second", cfg.Signal.TriggerSecond),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.Bool("redis", cfg.Redis.Enabled))
	return g.Wait()
}
