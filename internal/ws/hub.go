// Package ws fans display events out to WebSocket clients.
//
// Events published with Retain are also remembered per topic, and a client
// that connects later receives the latest retained event of every topic
// before any live traffic, so a display opened mid-pass shows the rotor
// immediately instead of waiting for the next control tick.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 3 * time.Second
	pingPeriod = 20 * time.Second
	pongWait   = 60 * time.Second
)

type message struct {
	topic string // empty for transient events
	data  []byte
}

// Hub manages WebSocket client connections. All client state is owned by the
// Run goroutine; other methods only talk to it through channels.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	retained   map[string][]byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan message
	upgrader   websocket.Upgrader
	log        *slog.Logger

	count   atomic.Int64
	dropped atomic.Int64
}

// NewHub allocates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		retained:   make(map[string][]byte),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan message, 256),
		log:        logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run delivers events and keepalive pings until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			clear(h.clients)
			h.count.Store(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Debug("client connected", "remote", c.RemoteAddr().String(), "clients", len(h.clients))
			h.replay(c)

		case c := <-h.unregister:
			h.drop(c)

		case m := <-h.broadcast:
			if m.topic != "" {
				h.retained[m.topic] = m.data
			}
			for c := range h.clients {
				h.send(c, websocket.TextMessage, m.data)
			}

		case <-ping.C:
			for c := range h.clients {
				h.send(c, websocket.PingMessage, nil)
			}
		}
	}
}

// replay sends the retained events to a new client in topic order.
func (h *Hub) replay(c *websocket.Conn) {
	topics := make([]string, 0, len(h.retained))
	for t := range h.retained {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	for _, t := range topics {
		if !h.send(c, websocket.TextMessage, h.retained[t]) {
			return
		}
	}
}

func (h *Hub) send(c *websocket.Conn, kind int, data []byte) bool {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, data); err != nil {
		h.drop(c)
		return false
	}
	return true
}

func (h *Hub) drop(c *websocket.Conn) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	_ = c.Close()
	h.count.Store(int64(len(h.clients)))
	h.log.Debug("client disconnected", "remote", c.RemoteAddr().String(), "clients", len(h.clients))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped returns how many events were discarded because the queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Handler upgrades requests to WebSocket connections and registers them.
// Clients are receive-only; anything they send is discarded.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", "err", err)
			return
		}
		h.register <- conn

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON queues a transient event for every connected client. It never
// blocks: when the queue is full the event is dropped.
func (h *Hub) BroadcastJSON(v any) {
	h.publish("", v)
}

// Retain is BroadcastJSON for state events: the latest event per topic is
// kept and replayed to clients that connect later.
func (h *Hub) Retain(topic string, v any) {
	h.publish(topic, v)
}

func (h *Hub) publish(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("event not serialisable", "err", err)
		return
	}
	select {
	case h.broadcast <- message{topic: topic, data: b}:
	default:
		h.dropped.Add(1)
	}
}
