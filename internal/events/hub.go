package events

import (
	"sync"

	"github.com/prudhvinik1/changesync/internal/metrics"
	"github.com/prudhvinik1/changesync/internal/models"
)

const DefaultSendBuffer = 64

// Conn is one live update connection held by this process.
type Conn struct {
	ID        string
	UserID    string
	Scope     models.ConnectionScope
	SessionID string
	MachineID string

	send chan []byte
}

// Updates yields serialized updates. It is closed when the connection is
// unregistered.
func (c *Conn) Updates() <-chan []byte {
	return c.send
}

// Hub indexes this process's live connections by user.
type Hub struct {
	mu         sync.RWMutex
	byUser     map[string]map[string]*Conn
	sendBuffer int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Hub{
		byUser:     make(map[string]map[string]*Conn),
		sendBuffer: sendBuffer,
	}
}

func (h *Hub) Register(conn *Conn) *Conn {
	conn.send = make(chan []byte, h.sendBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byUser[conn.UserID]
	if conns == nil {
		conns = make(map[string]*Conn)
		h.byUser[conn.UserID] = conns
	}
	conns[conn.ID] = conn
	metrics.LiveConnections.Inc()
	return conn
}

func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byUser[conn.UserID]
	if _, ok := conns[conn.ID]; !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.byUser, conn.UserID)
	}
	close(conn.send)
	metrics.LiveConnections.Dec()
}

// Deliver hands payload to every matching connection of userID without
// blocking. A connection whose buffer is full misses the update.
func (h *Hub) Deliver(userID string, filter RecipientFilter, payload []byte, origin string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, conn := range h.byUser[userID] {
		if !filter.Matches(conn) {
			continue
		}
		select {
		case conn.send <- payload:
			delivered++
		default:
			metrics.FanoutDropped.WithLabelValues("buffer-full").Inc()
		}
	}
	if delivered > 0 {
		metrics.FanoutDelivered.WithLabelValues(origin).Add(float64(delivered))
	}
	return delivered
}

// Connections returns a snapshot of the user's local connections.
func (h *Hub) Connections(userID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}
