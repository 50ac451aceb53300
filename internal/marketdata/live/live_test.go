package live

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/model"
)

const klinesBody = `[
 [1767225600000,"65000.10","65010.00","64990.50","65005.25","12.5",1767225659999,"0",10,"0","0","0"],
 [1767225660000,"65005.25","65020.00","65001.00","65018.75","8.25",1767225719999,"0",8,"0","0","0"]
]`

func TestBinanceInterval(t *testing.T) {
	assert.Equal(t, "1m", BinanceInterval(model.Timeframe1m))
	assert.Equal(t, "1m", BinanceInterval(model.Timeframe3m))
	assert.Equal(t, "5m", BinanceInterval(model.Timeframe5m))
}

func TestHistory_DecodesKlines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	src := New(Config{RESTURL: srv.URL})
	candles, err := src.History(context.Background(), "BTCUSDT", model.Timeframe3m, 50)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "interval=1m")
	assert.Contains(t, gotQuery, "limit=50")

	c := candles[0]
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), c.Time)
	assert.Equal(t, 65000.10, c.Open)
	assert.Equal(t, 65010.00, c.High)
	assert.Equal(t, 64990.50, c.Low)
	assert.Equal(t, 65005.25, c.Close)
	assert.Equal(t, 12.5, c.Volume)
	assert.True(t, candles[1].Time.After(c.Time))
}

func TestHistory_Failures(t *testing.T) {
	bodies := map[string]struct {
		status int
		body   string
	}{
		"http error":  {http.StatusTooManyRequests, `{"code":-1003}`},
		"not json":    {http.StatusOK, `<html>`},
		"short row":   {http.StatusOK, `[[1,"1","2"]]`},
		"bad decimal": {http.StatusOK, `[[1,"x","2","3","4","5"]]`},
	}
	for name, tc := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(Config{RESTURL: srv.URL}).History(context.Background(), "BTCUSDT", model.Timeframe1m, 50)
			assert.Error(t, err)
		})
	}

	_, err := New(Config{}).History(context.Background(), "", model.Timeframe1m, 50)
	assert.ErrorIs(t, err, marketdata.ErrUnknownInstrument)
}

func TestDecodeTicker(t *testing.T) {
	p, ok, err := decodeTicker([]byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"65001.55"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 65001.55, p)

	_, ok, err = decodeTicker([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = decodeTicker([]byte(`nope`))
	assert.Error(t, err)
}

func TestTickFeedDecoder_FiltersInstrument(t *testing.T) {
	dec := tickFeedDecoder("EURUSD_otc")

	p, ok, err := dec([]byte(`{"instrument":"EURUSD_otc","price":1.08451,"ts":"2026-03-02T10:07:45Z"}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.08451, p)

	_, ok, err = dec([]byte(`{"instrument":"USDINR_otc","price":83.4}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

// wsServer pushes each message in msgs to every client, then holds the
// connection open until the test ends.
func wsServer(t *testing.T, path string, msgs ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type collector struct {
	mu     sync.Mutex
	prices []float64
	want   int
	done   chan struct{}
}

func newCollector(want int) *collector {
	return &collector{want: want, done: make(chan struct{})}
}

func (c *collector) add(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = append(c.prices, p)
	if len(c.prices) == c.want {
		close(c.done)
	}
}

func (c *collector) wait(t *testing.T) []float64 {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for prices")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.prices...)
}

func TestSubscribe_BinanceTicker(t *testing.T) {
	srv := wsServer(t, "/ws/btcusdt@ticker",
		`{"e":"24hrTicker","c":"65000.5"}`,
		`garbage`,
		`{"e":"24hrTicker","c":"65001.25"}`)
	defer srv.Close()

	col := newCollector(2)
	src := New(Config{WSURL: wsURL(srv) + "/ws"})
	sub, err := src.Subscribe(context.Background(), "BTCUSDT", col.add)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, []float64{65000.5, 65001.25}, col.wait(t))
}

func TestSubscribe_TickServer(t *testing.T) {
	srv := wsServer(t, "/ws",
		`{"instrument":"USDINR_otc","price":83.1}`,
		`{"instrument":"EURUSD_otc","price":1.0846}`,
		`{"instrument":"EURUSD_otc","price":1.0847}`)
	defer srv.Close()

	col := newCollector(2)
	src := New(Config{TickServerURL: wsURL(srv) + "/ws"})
	sub, err := src.Subscribe(context.Background(), "EURUSD_otc", col.add)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, []float64{1.0846, 1.0847}, col.wait(t))
}

func TestSubscribe_ReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"c":"1.5"}`))
		if n == 1 {
			return // drop the first connection
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	col := newCollector(2)
	src := New(Config{WSURL: wsURL(srv), Stream: StreamConfig{ReconnectDelay: 5 * time.Millisecond}})
	reconnects := make(chan struct{}, 4)
	src.OnReconnect = func() {
		select {
		case reconnects <- struct{}{}:
		default:
		}
	}

	sub, err := src.Subscribe(context.Background(), "BTCUSDT", col.add)
	require.NoError(t, err)
	defer sub.Close()

	col.wait(t)
	assert.NotEmpty(t, reconnects)
}

// runStream runs st until it has waited n times and returns the delays.
func runStream(t *testing.T, st *stream, n int) []time.Duration {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var waits []time.Duration
	st.decode = func([]byte) (float64, bool, error) { return 0, false, nil }
	st.fn = func(float64) {}
	st.cfg = StreamConfig{ReconnectDelay: time.Millisecond, MaxReconnectDelay: time.Second}
	st.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	st.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, d)
		if len(waits) == n {
			cancel()
		}
		mu.Unlock()
		return time.After(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		st.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	return waits
}

func TestStream_BackoffResetsAfterConnect(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // every connection drops straight away
	}))
	defer srv.Close()

	waits := runStream(t, &stream{url: wsURL(srv)}, 4)
	require.Len(t, waits, 4)
	for _, d := range waits {
		assert.Equal(t, time.Millisecond, d)
	}
}

func TestStream_BackoffGrowsWhileDialFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	waits := runStream(t, &stream{url: url}, 4)
	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond,
	}, waits)
}

func TestSubscribe_CloseStopsDelivery(t *testing.T) {
	srv := wsServer(t, "/ws/ethusdt@ticker", `{"c":"3000"}`)
	defer srv.Close()

	col := newCollector(1)
	sub, err := New(Config{WSURL: wsURL(srv) + "/ws"}).Subscribe(context.Background(), "ETHUSDT", col.add)
	require.NoError(t, err)
	col.wait(t)

	done := make(chan struct{})
	go func() {
		sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an open connection")
	}
}
