// Package ws pushes bus events to browser clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/service"
)

const sendBuffer = 32

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans bus events out to them
type Hub struct {
	*service.ServiceBase

	mu      sync.RWMutex
	clients map[*client]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		ServiceBase: service.NewServiceBase("event-hub", log),
		clients:     make(map[*client]struct{}),
	}
}

// Start forwards bus events to clients until Stop
func (h *Hub) Start(ctx context.Context) error {
	bus := h.GetEventBus()
	if bus == nil {
		h.LogWarn("No event bus, WebSocket clients will receive nothing")
		return nil
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	events := bus.SubscribeAll()

	go func() {
		defer close(h.done)
		defer bus.UnsubscribeAll(events)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if forwarded(e.Type) {
					h.BroadcastMessage(FromEvent(e))
				}
			}
		}
	}()
	return nil
}

// Stop disconnects every client
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
		}
	}

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return nil
}

// service lifecycle events stay internal
func forwarded(t service.EventType) bool {
	return !strings.HasPrefix(string(t), "service.")
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.LogDebug("WebSocket client registered", "client_id", c.id, "clients", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// BroadcastMessage encodes msg and queues it for every client
func (h *Hub) BroadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.LogError("Failed to encode WebSocket message", err, "type", msg.Type)
		return
	}
	h.Broadcast(data)
}

// Broadcast queues data for every client. Clients whose queue is full are
// disconnected.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.LogWarn("Dropping slow WebSocket client", "client_id", c.id)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
