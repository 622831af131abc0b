package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/burner-sim/internal/status"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second
	sendBacklog = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the status page may be served through a proxy on another origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// Frame is one websocket update.
type Frame struct {
	Level  float64 `json:"level"`
	Goal   float64 `json:"goal"`
	Status string  `json:"status"`
}

// Snapshotter supplies point-in-time daemon state.
type Snapshotter interface {
	Snapshot() status.Snapshot
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans burner updates out to websocket clients. It is a display: the
// refresher calls SetLevel and the hub broadcasts only when the frame
// changes. Slow clients are dropped rather than waited on.
type Hub struct {
	source Snapshotter
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    Frame
	sent    bool
	closed  bool
}

// NewHub creates a Hub reading goal and status from source.
func NewHub(source Snapshotter, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source:  source,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) frame(level float64) Frame {
	snap := h.source.Snapshot()
	state := string(snap.Status)
	if state == "" {
		state = "UNKNOWN"
	}
	return Frame{Level: status.RoundLevel(level), Goal: snap.Goal, Status: state}
}

// SetLevel broadcasts the level with the current goal and status.
func (h *Hub) SetLevel(level float64) error {
	f := h.frame(level)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sent && f == h.last {
		return nil
	}
	h.last, h.sent = f, true
	if len(h.clients) == 0 {
		return nil
	}

	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("websocket client too slow, dropping", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and sends the current frame immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	initial, err := json.Marshal(h.frame(h.source.Snapshot().Level))
	if err != nil {
		conn.Close()
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBacklog)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	c.send <- initial
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound messages; it exists to notice disconnects and
// answer pings.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
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
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
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
