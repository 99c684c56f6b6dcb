package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// Hub keeps one room per user holding that user's local connections
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uint]map[*Client]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{rooms: make(map[uint]map[*Client]struct{}), logger: logger}
}

func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.userID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.userID] = room
	}
	room[c] = struct{}{}
	h.logger.Debug("client joined room", zap.Uint("user_id", c.userID), zap.String("conn_id", c.id), zap.Int("room_size", len(room)))
}

// Leave removes c and returns the connections the user still has on this instance
func (h *Hub) Leave(c *Client) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.userID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.userID)
		return nil
	}
	remaining := make([]*Client, 0, len(room))
	for other := range room {
		remaining = append(remaining, other)
	}
	return remaining
}

// Deliver enqueues env on every subscribed connection in the user's room and
// returns how many connections received it
func (h *Hub) Deliver(userID uint, env Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.rooms[userID] {
		if c.State() != StateSubscribed {
			continue
		}
		if c.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// HasSubscribed reports whether any local connection of the user, other than except, is subscribed
func (h *Hub) HasSubscribed(userID uint, except *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[userID] {
		if c != except && c.State() == StateSubscribed {
			return true
		}
	}
	return false
}

func (h *Hub) RoomSize(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}
