// Package marketdata defines the market data source contract used by the
// pipeline and routes each instrument to its variant: instruments carrying
// the OTC flag are simulated, everything else is served live.
package marketdata

import (
	"context"
	"errors"
	"sync"

	"trading-signalv1/internal/model"
)

// DefaultHistoryLimit is the number of candles requested per cycle.
const DefaultHistoryLimit = 50

var (
	// ErrUnknownInstrument is returned for an empty or unsupported symbol.
	ErrUnknownInstrument = errors.New("marketdata: unknown instrument")

	// ErrNoSource is returned by a Selector missing the variant an
	// instrument needs.
	ErrNoSource = errors.New("marketdata: no source for instrument")
)

// TickHandler receives the latest price of a subscribed instrument.
type TickHandler func(price float64)

// Subscription is a live price stream. Close stops it and returns only
// after the handler can no longer be called.
type Subscription interface {
	Close() error
}

// Source is a market data variant.
type Source interface {
	// History returns up to limit of the most recent candles, oldest first.
	History(ctx context.Context, instrument string, tf model.Timeframe, limit int) ([]model.Candle, error)

	// Subscribe streams prices for instrument to fn until the subscription
	// is closed or ctx is cancelled.
	Subscribe(ctx context.Context, instrument string, fn TickHandler) (Subscription, error)
}

// Selector routes instruments to the live or the simulated Source.
type Selector struct {
	Live      Source
	Simulated Source
}

// For returns the variant serving instrument.
func (s *Selector) For(instrument string) (Source, error) {
	if instrument == "" {
		return nil, ErrUnknownInstrument
	}
	src := s.Live
	if model.IsOTC(instrument) {
		src = s.Simulated
	}
	if src == nil {
		return nil, ErrNoSource
	}
	return src, nil
}

// History implements Source.
func (s *Selector) History(ctx context.Context, instrument string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	src, err := s.For(instrument)
	if err != nil {
		return nil, err
	}
	return src.History(ctx, instrument, tf, limit)
}

// Subscribe implements Source.
func (s *Selector) Subscribe(ctx context.Context, instrument string, fn TickHandler) (Subscription, error) {
	src, err := s.For(instrument)
	if err != nil {
		return nil, err
	}
	return src.Subscribe(ctx, instrument, fn)
}

// Spawn runs fn on its own goroutine with a context derived from parent and
// returns a Subscription whose Close cancels that context and waits for fn
// to return.
func Spawn(parent context.Context, fn func(ctx context.Context)) Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &spawned{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		fn(ctx)
	}()
	return sub
}

type spawned struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *spawned) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
