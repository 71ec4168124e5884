package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coffersTech/disclosurelog/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second

	// DefaultClientBuffer is how many entries may queue for one client
	// before it is dropped.
	DefaultClientBuffer = 256
)

// client owns one connection. Only its writer goroutine writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans newly appended entries out to WebSocket clients.
// The most recent entries are kept in a ring and replayed on connect.
// Publish never blocks on the network: every client has its own queue and
// a client whose queue is full is disconnected.
type Hub struct {
	upgrader  websocket.Upgrader
	metrics   *metrics.Metrics
	clientBuf int

	mu      sync.Mutex
	clients map[*client]struct{}
	recent  [][]byte
	next    int
	filled  bool
	closed  bool
}

// NewHub creates a hub that replays up to history entries to new clients.
func NewHub(history int, m *metrics.Metrics) *Hub {
	if history < 0 {
		history = 0
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // cross-origin clients are allowed everywhere
			},
		},
		metrics:   m,
		clientBuf: DefaultClientBuffer,
		clients:   make(map[*client]struct{}),
		recent:    make([][]byte, history),
	}
}

// Publish records entry in the history ring and queues it for every client.
func (h *Hub) Publish(entry []byte) {
	msg := make([]byte, len(entry))
	copy(msg, entry)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	if len(h.recent) > 0 {
		h.recent[h.next] = msg
		h.next = (h.next + 1) % len(h.recent)
		if h.next == 0 {
			h.filled = true
		}
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("[Stream] client %s too slow, dropping", c.conn.RemoteAddr())
			h.dropLocked(c)
		}
	}
}

// ServeHTTP upgrades the request and streams entries until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Stream] upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.clientBuf+len(h.recent))}
	for _, msg := range h.historyLocked() {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.metrics.StreamClients.Inc()
	h.mu.Unlock()

	go h.writeLoop(c)

	// Drain reads so control frames are processed and closes are noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.mu.Lock()
			h.dropLocked(c)
			h.mu.Unlock()
			// keep draining so close() callers never block
			for range c.send {
			}
			return
		}
	}

	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) historyLocked() [][]byte {
	if !h.filled {
		return h.recent[:h.next]
	}
	out := make([][]byte, 0, len(h.recent))
	out = append(out, h.recent[h.next:]...)
	return append(out, h.recent[:h.next]...)
}

// dropLocked unregisters c and closes its queue; the writer then closes conn.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.metrics.StreamClients.Dec()
	c.close()
}
