// Package sim is the simulated market data variant used for OTC
// instruments. Prices random-walk around a per-instrument base price.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/model"
)

const (
	// TickVolatility is the full width of the per-tick walk as a fraction
	// of price: each tick moves at most half of it either way (±0.005%).
	TickVolatility = 0.0001

	// CandleVolatility is the full width of the per-candle walk (±0.025%
	// close-to-close), also used to pad highs and lows.
	CandleVolatility = 0.0005

	// CandleSpacing is the distance between simulated history candles.
	CandleSpacing = 60 * time.Second

	// HistoryLen is the fixed number of simulated history candles.
	HistoryLen = 50
)

// Source generates synthetic history and ticks.
type Source struct {
	mu       sync.Mutex
	rng      *rand.Rand
	interval time.Duration
	now      func() time.Time
	base     map[string]float64
}

// Option configures a Source.
type Option func(*Source)

// WithSeed makes the walk reproducible.
func WithSeed(seed int64) Option {
	return func(s *Source) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithInterval changes the tick interval (default one second).
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// WithClock replaces the wall clock used to timestamp history.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithBasePrices anchors the walk of the given symbols. Other symbols use
// model.BasePrice.
func WithBasePrices(prices map[string]float64) Option {
	return func(s *Source) { s.base = prices }
}

// New creates a simulated source.
func New(opts ...Option) *Source {
	s := &Source{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		interval: time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// step returns a random change in [-width/2, width/2) of price.
func (s *Source) step(price, width float64) float64 {
	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()
	return (r - 0.5) * price * width
}

func (s *Source) basePrice(instrument string) float64 {
	if p, ok := s.base[instrument]; ok && p > 0 {
		return p
	}
	return model.BasePrice(instrument)
}

func (s *Source) noise() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// History returns HistoryLen candles ending one spacing before now,
// walking from the instrument's base price. The timeframe and limit do not
// change the simulated series.
func (s *Source) History(ctx context.Context, instrument string, _ model.Timeframe, _ int) ([]model.Candle, error) {
	if instrument == "" {
		return nil, marketdata.ErrUnknownInstrument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	price := s.basePrice(instrument)
	out := make([]model.Candle, 0, HistoryLen)
	for i := 0; i < HistoryLen; i++ {
		vol := price * CandleVolatility
		open := price
		last := price + s.step(price, CandleVolatility)
		out = append(out, model.Candle{
			Time:   now.Add(-time.Duration(HistoryLen-i) * CandleSpacing),
			Open:   open,
			High:   max(open, last) + vol*0.2,
			Low:    min(open, last) - vol*0.2,
			Close:  last,
			Volume: s.noise() * 1000,
		})
		price = last
	}
	return out, nil
}

// Subscribe emits one walked price per interval, starting from the base
// price.
func (s *Source) Subscribe(ctx context.Context, instrument string, fn marketdata.TickHandler) (marketdata.Subscription, error) {
	if instrument == "" {
		return nil, marketdata.ErrUnknownInstrument
	}
	price := s.basePrice(instrument)
	return marketdata.Spawn(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				price += s.step(price, TickVolatility)
				fn(price)
			}
		}
	}), nil
}
