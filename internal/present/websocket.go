package present

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-live/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send control frames.
	maxMessageSize = 1024

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// envelope is the message shape sent to viewers.
type envelope struct {
	Type string `json:"type"` // caption, summary
	Data any    `json:"data"`
}

// Hub serves /ws and broadcasts captions to every connected viewer.
// A viewer that cannot keep up is disconnected rather than slowing the pipeline.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*viewer
	closed  bool
	log     *slog.Logger
}

type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{clients: make(map[string]*viewer), log: log.With(slog.String("component", "websocket"))}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	v := &viewer{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[v.id] = v
	h.mu.Unlock()
	h.log.Info("viewer connected", slog.String("viewer", v.id), slog.String("remote", r.RemoteAddr))

	go h.writePump(v)
	go h.readPump(v)
}

// Clients is the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(_ context.Context, u stream.Update) error {
	return h.broadcast(envelope{Type: "caption", Data: toCaption(u)})
}

func (h *Hub) Close(_ context.Context, s stream.Summary) error {
	err := h.broadcast(envelope{Type: "summary", Data: toSummary(s)})
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, v := range h.clients {
		delete(h.clients, id)
		close(v.send)
	}
	return err
}

func (h *Hub) broadcast(msg envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, v := range h.clients {
		select {
		case v.send <- data:
		default:
			h.log.Warn("viewer too slow, disconnecting", slog.String("viewer", id))
			delete(h.clients, id)
			close(v.send)
		}
	}
	return nil
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[v.id]; ok {
		delete(h.clients, v.id)
		close(v.send)
		h.log.Info("viewer disconnected", slog.String("viewer", v.id))
	}
}

func (h *Hub) readPump(v *viewer) {
	defer func() {
		h.unregister(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxMessageSize)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", slog.String("viewer", v.id), slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
