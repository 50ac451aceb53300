// cmd/tickserver is a demo websocket tick feed. It random-walks each
// configured instrument with the simulated market data source and
// broadcasts every tick to all clients as model.Tick JSON:
//
//	{"instrument":"BTCUSDT","price":64012.5,"ts":"..."}
//
// Point signald at it with TICK_SERVER_URL=ws://localhost:9001/ws to run the
// live variant offline.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR   listen address (default ":9001")
//	TICK_INSTRUMENTS   comma-separated SYMBOL[:PRICE] (default "BTCUSDT:64000,ETHUSDT:3100")
//	TICK_INTERVAL_MS   tick interval per instrument in ms (default 1000)
//	LOG_LEVEL          debug|info|warn|error (default info)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/marketdata"
	"trading-signalv1/internal/marketdata/sim"
	"trading-signalv1/internal/model"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", slog.Any("error", err))
			return
		}
		slog.Info("client connected", slog.String("remote", r.RemoteAddr))

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", slog.String("remote", r.RemoteAddr))
		}()

		// Reader: detects the peer going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

type instrument struct {
	Symbol string
	Price  float64
}

// startFeeds subscribes every instrument on src and broadcasts its ticks.
func startFeeds(ctx context.Context, src *sim.Source, h *hub, instruments []instrument, now func() time.Time) ([]marketdata.Subscription, error) {
	subs := make([]marketdata.Subscription, 0, len(instruments))
	for _, in := range instruments {
		symbol := in.Symbol
		sub, err := src.Subscribe(ctx, symbol, func(price float64) {
			b, err := json.Marshal(model.Tick{Instrument: symbol, Price: price, TS: now().UTC()})
			if err != nil {
				return
			}
			h.broadcast(b)
		})
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	level, err := logger.ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = slog.LevelInfo
	}
	logger.Init("tickserver", level)

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("TICK_INSTRUMENTS", "BTCUSDT:64000,ETHUSDT:3100"))
	interval := time.Duration(envIntOrDefault("TICK_INTERVAL_MS", 1000)) * time.Millisecond
	if len(instruments) == 0 {
		slog.Error("no instruments configured via TICK_INSTRUMENTS")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := make(map[string]float64, len(instruments))
	for _, in := range instruments {
		base[in.Symbol] = in.Price
	}
	src := sim.New(sim.WithInterval(interval), sim.WithBasePrices(base))
	h := newHub()

	subs, err := startFeeds(ctx, src, h, instruments, time.Now)
	if err != nil {
		slog.Error("start feeds", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d}`+"\n", h.count())
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", slog.String("addr", addr),
		slog.Any("instruments", instruments), slog.Duration("interval", interval))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseInstruments parses "SYMBOL[:PRICE],...". A missing or invalid price
// falls back to the simulated base price of the symbol.
func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, _ := strings.Cut(part, ":")
		sym = strings.TrimSpace(sym)
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil || price <= 0 {
			price = model.BasePrice(sym)
		}
		result = append(result, instrument{Symbol: sym, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
