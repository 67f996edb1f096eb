// Package ws is the room transport: a WebSocket hub that carries the
// bidirectional event channel between clients and the session manager.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"flowsync/domain/events"
	"flowsync/infrastructure/observability"
)

// Hub tracks connections per room and fans protocol messages out. It is
// the session manager's Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger, metrics *observability.Collector) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run processes registration traffic until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("hub shutting down")
			h.closeAll()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.cancel()
}

// Broadcast sends a protocol message to every participant of a room
// except excludeUserID; the sender never hears its own change back.
func (h *Hub) Broadcast(roomID, excludeUserID, event string, payload any) {
	envelope, err := events.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("failed to build envelope", zap.String("event", event), zap.Error(err))
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("failed to marshal envelope", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if excludeUserID != "" && client.UserID() == excludeUserID {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- data:
			h.metrics.MessagesSent.Inc()
		default:
			h.metrics.MessagesFailed.Inc()
			h.logger.Warn("send buffer full, dropping message",
				zap.String("roomId", roomID),
				zap.String("userId", client.UserID()),
				zap.String("event", event),
			)
		}
	}
}

// joinRoom indexes an already-registered client under a room.
func (h *Hub) joinRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
}

// leaveRoom removes the room index entry.
func (h *Hub) leaveRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.metrics.ActiveConnections.Inc()
	h.logger.Info("connection registered", zap.String("connectionId", c.id))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	for roomID, clients := range h.rooms {
		if clients[c] {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	c.closeSendOnce()
	h.metrics.ActiveConnections.Dec()
	h.logger.Info("connection unregistered", zap.String("connectionId", c.id))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*Client]bool)
	for _, clients := range h.rooms {
		for c := range clients {
			if !seen[c] {
				seen[c] = true
				c.closeSendOnce()
			}
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
}
