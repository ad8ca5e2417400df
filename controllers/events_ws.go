package controller

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// EventHub streams notable events to connected dashboard clients over
// websockets. It implements the notifier interface, so the workers emit to
// it the same way they emit to webhooks.
type EventHub struct {
	mu      sync.RWMutex
	clients map[uint]map[*websocket.Conn]bool
	Logger  *logrus.Logger
}

func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		clients: make(map[uint]map[*websocket.Conn]bool),
		Logger:  logger,
	}
}

func (h *EventHub) register(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]bool)
	}
	h.clients[userID][conn] = true
}

func (h *EventHub) unregister(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], conn)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Emit pushes the event to every open connection of the user. Slow or dead
// connections are dropped rather than allowed to block the caller.
func (h *EventHub) Emit(userID uint, event string, payload map[string]interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[userID]))
	for conn := range h.clients[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	message := map[string]interface{}{
		"event":      event,
		"payload":    payload,
		"emitted_at": time.Now().UTC(),
	}
	for _, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			h.Logger.Debugf("dropping websocket client for user %d: %v", userID, err)
			h.unregister(userID, conn)
			conn.Close()
		}
	}
}

// HandleEvents is the websocket endpoint. The connection is held open until
// the client goes away; events flow outward only.
func (h *EventHub) HandleEvents(c *websocket.Conn) {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		c.Close()
		return
	}

	h.register(userID, c)
	defer func() {
		h.unregister(userID, c)
		c.Close()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
