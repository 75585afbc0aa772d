package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talgya/cityforge/internal/traffic"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// StreamMessage is the envelope written to stream clients.
type StreamMessage struct {
	Type     string            `json:"type"` // "vehicles"
	Frame    uint64            `json:"frame"`
	Vehicles []traffic.Vehicle `json:"vehicles"`
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans vehicle frames out to connected WebSocket clients.
type Hub struct {
	// Every is the publish stride in frames. Frames run at 30/s.
	Every uint64

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	count      atomic.Int32
	upgrader   websocket.Upgrader
}

// NewHub creates a hub publishing every third frame.
func NewHub() *Hub {
	return &Hub{
		Every:      3,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 8),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

// Run owns the client set until ctx is cancelled. It must not be called
// more than once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			close(h.done)
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			slog.Info("stream client connected", "client", c.id)
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				slog.Info("stream client disconnected", "client", c.id)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slog.Warn("stream client too slow, dropping", "client", c.id)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// Publish queues a vehicle frame for all clients. Frames not on the Every
// stride, or arriving while the queue is full, are dropped.
func (h *Hub) Publish(frame uint64, vehicles []traffic.Vehicle) {
	if h.Every > 1 && frame%h.Every != 0 {
		return
	}
	if h.Len() == 0 {
		return
	}
	data, err := json.Marshal(StreamMessage{Type: "vehicles", Frame: frame, Vehicles: vehicles})
	if err != nil {
		slog.Error("encode stream frame", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{id: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump discards inbound messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("stream read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
