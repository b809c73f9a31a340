package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// Wall displays are served from other origins on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotSource yields coalesced snapshot batches until closed.
type SnapshotSource interface {
	Receive() ([]streamsupervisor.Snapshot, bool)
	Close()
}

// Hub fans slot status changes out to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// Wire formats of the status feed, selected with ?format= on connect.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	binary bool
}

// encodeStatus renders st in the client's feed format.
func encodeStatus(st control.SlotStatus, binary bool) ([]byte, error) {
	if binary {
		return marshalMsgpack(st)
	}
	return json.Marshal(st)
}

// marshalMsgpack keeps the JSON field names so both feeds share one schema.
func marshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Run broadcasts every batch from src until ctx is cancelled or src closes.
func (h *Hub) Run(ctx context.Context, src SnapshotSource) {
	stop := context.AfterFunc(ctx, src.Close)
	defer stop()

	for {
		snaps, ok := src.Receive()
		if !ok {
			h.closeAll()
			return
		}
		for _, snap := range snaps {
			h.BroadcastSnapshot(snap)
		}
	}
}

// BroadcastSnapshot sends one slot status to every client.
func (h *Hub) BroadcastSnapshot(snap streamsupervisor.Snapshot) {
	if h.ClientCount() == 0 {
		return
	}
	h.broadcast(snap.Slot, control.NewSlotStatus(snap))
}

// broadcast queues st for every client in its own format, encoding each
// format at most once. Slow clients miss messages rather than stall the hub.
func (h *Hub) broadcast(slot string, st control.SlotStatus) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var encoded [2][]byte
	for c := range h.clients {
		i := 0
		if c.binary {
			i = 1
		}
		if encoded[i] == nil {
			data, err := encodeStatus(st, c.binary)
			if err != nil {
				slog.Error("ws: failed to marshal slot status", "slot", slot, "binary", c.binary, "error", err)
				return
			}
			encoded[i] = data
		}
		message := encoded[i]
		select {
		case c.send <- message:
		default:
			slog.Debug("ws: client too slow, message dropped", "remote", c.conn.RemoteAddr())
		}
	}
}



// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("ws: client registered", "remote", c.conn.RemoteAddr(), "binary", c.binary, "total", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws: client unregistered", "remote", c.conn.RemoteAddr())
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams slot status to the client.
// initial is sent first so a new client sees every slot immediately.
// ?format=msgpack switches the feed to binary MessagePack frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial []streamsupervisor.Snapshot) {
	format := r.URL.Query().Get("format")
	if format != "" && format != FormatJSON && format != FormatMsgpack {
		http.Error(w, "unknown format: "+format, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer+len(initial)),
		binary: format == FormatMsgpack,
	}
	for _, snap := range initial {
		if data, err := encodeStatus(control.NewSlotStatus(snap), c.binary); err == nil {
			c.send <- data
		}
	}
	h.register(c)

	go c.writePump()
	go c.readPump(h)
}

// readPump only detects disconnection and answers pongs.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("ws: read error", "remote", c.conn.RemoteAddr(), "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind := websocket.TextMessage
			if c.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, message); err != nil {
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
