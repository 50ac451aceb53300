package live

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Decoder extracts a price from one websocket message. ok=false skips the
// message.
type Decoder func(raw []byte) (price float64, ok bool, err error)

// StreamConfig holds the reconnect policy of a price stream.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *StreamConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// stream reads one websocket URL and hands every decoded price to fn.
type stream struct {
	url    string
	decode Decoder
	fn     func(float64)
	cfg    StreamConfig
	log    *slog.Logger

	onReconnect func()
	after       func(time.Duration) <-chan time.Time // time.After when nil
}

// run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff on disconnect. The backoff restarts from
// ReconnectDelay after every connection that was established.
func (s *stream) run(ctx context.Context) {
	delay := s.cfg.ReconnectDelay
	after := s.after
	if after == nil {
		after = time.After
	}

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.runOnce(ctx)
		if err == nil {
			// Context cancelled cleanly
			return
		}
		if connected {
			delay = s.cfg.ReconnectDelay
		}

		s.log.Warn("stream disconnected, reconnecting",
			slog.String("url", s.url), slog.Any("error", err), slog.Duration("delay", delay))
		if s.onReconnect != nil {
			s.onReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-after(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded; a nil error
// means ctx was cancelled.
func (s *stream) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	defer conn.Close()

	s.log.Info("stream connected", slog.String("url", s.url))

	// Closes the connection when ctx is cancelled to unblock ReadMessage.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		price, ok, err := s.decode(raw)
		if err != nil {
			s.log.Debug("stream parse error", slog.Any("error", err), slog.String("raw", string(raw)))
			continue
		}
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return true, nil
		}
		s.fn(price)
	}
}
