package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"led-bridge/internal/topics"
)

// Commander is the relay-facing side of the hub: command fan-in plus the
// late-join status push.
type Commander interface {
	Submit(channel, payload string) error
	OnSessionJoin(push func(channel, payload string))
}

// Hub owns every live client session. It implements relay.Broadcaster: one
// Broadcast call enqueues the event on every session in the same order the
// relay received it.
type Hub struct {
	upgrader websocket.Upgrader
	cmd      Commander

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(cmd Commander) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Served behind a gateway which enforces auth.
				return true
			},
		},
		cmd:     cmd,
		clients: map[*client]struct{}{},
	}
}

// SetCommander late-binds the relay; the hub and the relay reference each
// other, so one side is wired after construction.
func (h *Hub) SetCommander(cmd Commander) {
	h.cmd = cmd
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	h.addClient(c)
	go h.writePump(c)

	// Push the cached status to this session only, after registration so no
	// telemetry can slip between the two.
	h.cmd.OnSessionJoin(func(channel, payload string) {
		h.sendEvent(c, typeMQTT, ControlData{Channel: channel, Payload: payload})
	})

	h.readPump(c)
}

// Broadcast fans one telemetry event out to every connected session. Events
// are never held back or deduplicated; a session that cannot keep up is
// dropped rather than allowed to stall the rest.
func (h *Hub) Broadcast(channel, payload string) {
	b, err := json.Marshal(Envelope{Type: typeMQTT, Data: mustJSON(ControlData{Channel: channel, Payload: payload})})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			// Slow client; drop it.
			delete(h.clients, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

// SessionCount reports the number of live sessions, for health output.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("rejected session message", "error", err)
		return
	}
	switch env.Type {
	case typeControl:
		var data ControlData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Warn("rejected control message", "error", err)
			return
		}
		if err := h.cmd.Submit(data.Channel, data.Payload); err != nil {
			h.sendEvent(c, typeError, "failed to deliver command to the controller")
		}
	case typeMusicSync:
		var data SyncData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			slog.Warn("rejected music sync sample", "error", err)
			return
		}
		bass, mid, treble, ok := validateSync(data)
		if !ok {
			slog.Warn("rejected music sync sample", "data", string(env.Data))
			return
		}
		payload := fmt.Sprintf("%d,%d,%d", bass, mid, treble)
		if err := h.cmd.Submit(topics.MusicData, payload); err != nil {
			h.sendEvent(c, typeError, "failed to deliver sync sample to the controller")
		}
	default:
		slog.Warn("unknown session message type", "type", env.Type)
	}
}

// validateSync checks all three bands together: one bad band rejects the
// whole sample. Bands must be numeric and within [0, 255].
func validateSync(d SyncData) (bass, mid, treble int, ok bool) {
	vals := [3]*float64{d.Bass, d.Mid, d.Treble}
	var out [3]int
	for i, v := range vals {
		if v == nil || *v < 0 || *v > 255 {
			return 0, 0, 0, false
		}
		out[i] = int(*v)
	}
	return out[0], out[1], out[2], true
}

func (h *Hub) sendEvent(c *client, typ string, data any) {
	b, err := json.Marshal(Envelope{Type: typ, Data: mustJSON(data)})
	if err != nil {
		return
	}
	// All sends happen under the lock so a concurrent drop cannot close the
	// channel out from under us.
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
		// Session is saturated; the event is droppable by contract.
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}
