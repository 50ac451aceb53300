// Package live is the live market data variant: history from the Binance
// klines REST endpoint and prices from a websocket stream. The stream is
// either the Binance 24h ticker or, when TickServerURL is set, the demo
// tick server (cmd/tickserver).
package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/model"
)

// Config holds the endpoints of the live variant.
type Config struct {
	RESTURL       string // default DefaultRESTURL
	WSURL         string // default DefaultWSURL
	TickServerURL string // optional, e.g. "ws://localhost:9001/ws"
	HTTPTimeout   time.Duration
	Stream        StreamConfig
}

// Source implements marketdata.Source against live endpoints.
type Source struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger

	// OnReconnect is called each time a stream reconnects.
	OnReconnect func()
}

// New creates a live source.
func New(cfg Config) *Source {
	if cfg.RESTURL == "" {
		cfg.RESTURL = DefaultRESTURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	cfg.Stream.defaults()
	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		log:    logger.Component("marketdata"),
	}
}

// History fetches the most recent limit klines for instrument.
func (s *Source) History(ctx context.Context, instrument string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	if instrument == "" {
		return nil, marketdata.ErrUnknownInstrument
	}
	if limit <= 0 {
		limit = marketdata.DefaultHistoryLimit
	}
	return fetchKlines(ctx, s.client, klinesURL(s.cfg.RESTURL, instrument, tf, limit))
}

// Subscribe streams prices for instrument.
func (s *Source) Subscribe(ctx context.Context, instrument string, fn marketdata.TickHandler) (marketdata.Subscription, error) {
	if instrument == "" {
		return nil, marketdata.ErrUnknownInstrument
	}

	st := &stream{
		fn:          fn,
		cfg:         s.cfg.Stream,
		log:         s.log.With(slog.String("instrument", instrument)),
		onReconnect: s.OnReconnect,
	}
	if s.cfg.TickServerURL != "" {
		st.url = s.cfg.TickServerURL
		st.decode = tickFeedDecoder(instrument)
	} else {
		st.url = tickerURL(s.cfg.WSURL, instrument)
		st.decode = decodeTicker
	}
	return marketdata.Spawn(ctx, st.run), nil
}
