// Package redis publishes pipeline state to Redis so other processes can
// read the current signal of an instrument and follow its updates.
//
// Keys (prefix defaults to "signal"):
//
//	{prefix}:latest:{instrument}   current signal JSON, with TTL
//	{prefix}:state                 last published state JSON, with TTL
//	{prefix}:updates:{instrument}  PubSub channel, one state JSON per update
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-signalv1/internal/breaker"
	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/model"
)

const (
	defaultPrefix    = "signal"
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	Prefix    string
	LatestTTL time.Duration
}

// Publisher writes state updates to Redis through a circuit breaker, so a
// Redis outage costs one failed call per cool-down instead of one per
// update.
type Publisher struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	cb     *breaker.Breaker
	log    *slog.Logger

	// Optional hooks (metrics)
	OnPublish func(d time.Duration)
	OnError   func(err error)
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := NewWithClient(client, cfg)
	p.log.Info("connected", slog.String("addr", cfg.Addr))
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.LatestTTL <= 0 {
		cfg.LatestTTL = defaultLatestTTL
	}
	return &Publisher{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.LatestTTL,
		cb:     breaker.New(3, 10*time.Second),
		log:    logger.Component("redis"),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the publisher's circuit breaker.
func (p *Publisher) Breaker() *breaker.Breaker { return p.cb }

// LatestKey is the key holding the current signal of instrument.
func (p *Publisher) LatestKey(instrument string) string {
	return p.prefix + ":latest:" + instrument
}

// StateKey is the key holding the last published state.
func (p *Publisher) StateKey() string { return p.prefix + ":state" }

// Channel is the PubSub channel of instrument's updates.
func (p *Publisher) Channel(instrument string) string {
	return p.prefix + ":updates:" + instrument
}

// Publish writes one state update in a single pipeline round trip.
func (p *Publisher) Publish(ctx context.Context, st model.State) error {
	if st.Instrument == "" {
		return errors.New("redis: state without instrument")
	}
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis: marshal state: %w", err)
	}

	start := time.Now()
	err = p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		if st.Signal != nil {
			pipe.Set(ctx, p.LatestKey(st.Instrument), st.Signal.JSON(), p.ttl)
		}
		pipe.Set(ctx, p.StateKey(), stateJSON, p.ttl)
		pipe.Publish(ctx, p.Channel(st.Instrument), stateJSON)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		return fmt.Errorf("redis publish: %w", err)
	}
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
	return nil
}

// Run publishes every state read from ch. Blocks until ctx is cancelled or
// ch is closed.
func (p *Publisher) Run(ctx context.Context, ch <-chan model.State) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, st); err != nil && !errors.Is(err, breaker.ErrOpen) {
				p.log.Warn("publish failed", slog.String("instrument", st.Instrument), slog.Any("error", err))
			}
		}
	}
}

// Latest reads the current signal of instrument. It returns nil, nil when
// no signal is stored.
func (p *Publisher) Latest(ctx context.Context, instrument string) (*model.Signal, error) {
	raw, err := p.client.Get(ctx, p.LatestKey(instrument)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get latest: %w", err)
	}
	var sig model.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("redis decode latest: %w", err)
	}
	return &sig, nil
}

// Subscribe returns a PubSub on instrument's update channel.
func (p *Publisher) Subscribe(ctx context.Context, instrument string) *goredis.PubSub {
	return p.client.Subscribe(ctx, p.Channel(instrument))
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
