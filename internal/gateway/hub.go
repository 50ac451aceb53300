package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-signalv1/internal/logger"
	"trading-signalv1/internal/metrics"
	"trading-signalv1/internal/model"
)

// Hub fans pipeline state out to websocket clients. Every client receives
// the latest envelope on connect and every update after it.
type Hub struct {
	m   *metrics.Metrics
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  []byte
	seq     int64
}

// NewHub creates a Hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		m:       m,
		log:     logger.Component("gateway"),
		clients: make(map[*Client]struct{}),
	}
}

// Run broadcasts every state from updates until ctx is cancelled or the
// channel closes, then disconnects all clients.
func (h *Hub) Run(ctx context.Context, updates <-chan model.State) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(st)
		}
	}
}

// Broadcast sends st to every connected client. Slow clients miss updates
// rather than block the hub.
func (h *Hub) Broadcast(st model.State) {
	data, err := json.Marshal(st)
	if err != nil {
		h.log.Error("encode state", slog.Any("error", err))
		return
	}
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"state","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	h.latest = buf
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- buf:
		default:
			h.log.Debug("ws client lagging, update dropped", slog.Int64("seq", seq))
		}
	}
}

// Serve registers conn and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &Client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	if h.m != nil {
		h.m.WSClients.Set(float64(n))
	}
	h.log.Info("ws client connected", slog.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if h.m != nil {
		h.m.WSClients.Set(float64(n))
	}
	h.log.Info("ws client disconnected", slog.Int("clients", n))
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}
