// Package broadcast implements collab.Broadcaster over WebSocket
// connections. Grounded on
// backend/internal/orchestrator/streaming/client.go's ReadPump/WritePump
// structure (ping/pong keepalive, batching queued writes into one WebSocket
// frame) — but per §9 Design Notes, the teacher's Send()'s
// "select default: return false" (drop-newest, caller decides what to do
// with a full outbox) is explicitly NOT carried over: each subscriber gets
// a bounded ring buffer that drops its OLDEST queued event on overflow, so
// a slow viewer loses stale history rather than blocking or losing the
// newest state.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agor/agord/internal/collab"
	"github.com/agor/agord/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024

	// outboxCapacity bounds each subscriber's pending-event queue (§9).
	outboxCapacity = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wireEvent is a collab.Event's over-the-wire shape.
type wireEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans collab.Event out to every Client subscribed to a session or user.
type Hub struct {
	log *logging.Logger

	mu       sync.RWMutex
	bySession map[string]map[*Client]struct{}
	byUser    map[string]map[*Client]struct{}
}

// NewHub builds an empty Hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		log:       log,
		bySession: make(map[string]map[*Client]struct{}),
		byUser:    make(map[string]map[*Client]struct{}),
	}
}

// EmitToSession fans event out to every Client watching sessionID.
func (h *Hub) EmitToSession(sessionID string, event collab.Event) {
	h.emit(h.snapshotSession(sessionID), event)
}

// EmitToUser fans event out to every Client watching userID.
func (h *Hub) EmitToUser(userID string, event collab.Event) {
	h.emit(h.snapshotUser(userID), event)
}

func (h *Hub) snapshotSession(sessionID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.bySession[sessionID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) snapshotUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.byUser[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (h *Hub) emit(clients []*Client, event collab.Event) {
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(wireEvent{Type: event.Type, Data: event.Data})
	if err != nil {
		h.log.Warn("failed to marshal broadcast event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	for _, c := range clients {
		c.outbox.push(payload)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.sessionID != "" {
		set, ok := h.bySession[c.sessionID]
		if !ok {
			set = make(map[*Client]struct{})
			h.bySession[c.sessionID] = set
		}
		set[c] = struct{}{}
	}
	if c.userID != "" {
		set, ok := h.byUser[c.userID]
		if !ok {
			set = make(map[*Client]struct{})
			h.byUser[c.userID] = set
		}
		set[c] = struct{}{}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.bySession[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.bySession, c.sessionID)
		}
	}
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
}

// ServeWS upgrades r into a WebSocket connection subscribed to sessionID
// (and, if present, userID's cross-session stream), and blocks until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		outbox:    newRingBuffer(outboxCapacity),
		log:       h.log,
	}
	h.register(c)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	<-done
	return nil
}

var _ collab.Broadcaster = (*Hub)(nil)

// Client is one subscriber's live WebSocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	userID    string
	outbox    *ringBuffer
	log       *logging.Logger
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.outbox.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("broadcast read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.outbox.notify:
			msgs, closed := c.outbox.drain()
			for _, msg := range msgs {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			if closed {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

// ringBuffer is a bounded, mutex-guarded FIFO of pending outbound messages
// that drops its oldest entry on overflow rather than blocking the emitter
// or dropping the newest event (§9 Design Notes).
type ringBuffer struct {
	mu     sync.Mutex
	buf    [][]byte
	cap    int
	closed bool
	notify chan struct{}
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity, notify: make(chan struct{}, 1)}
}

func (r *ringBuffer) push(msg []byte) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.buf) >= r.cap {
		r.buf = r.buf[1:]
	}
	r.buf = append(r.buf, msg)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// drain returns every buffered message and whether the buffer has been
// closed (no more will ever arrive).
func (r *ringBuffer) drain() ([][]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buf
	r.buf = nil
	return out, r.closed
}

func (r *ringBuffer) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
