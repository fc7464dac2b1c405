// Package websocket is the observer gateway: it fans session, change, and
// edit-permission notifications out to connected dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	ws "github.com/agentdeck/agentdeck/pkg/websocket"
)

// outbound is a queued notification. A non-empty agentID marks the message
// as output belonging to that agent, which subscribed clients filter on.
type outbound struct {
	agentID string
	msg     *ws.Message
}

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients watching specific agents, keyed by agent id
	subscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications
	broadcast chan outbound

	// Message dispatcher
	dispatcher *ws.Dispatcher

	// Source of buffered scrollback replayed to a client on subscribe
	replay func(agentID string) []string

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		subscribers: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan outbound, 256),
		dispatcher:  dispatcher,
		logger:      log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case o := <-h.broadcast:
			h.broadcastMessage(o)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.subscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for agentID := range client.subscriptions {
			if clients, ok := h.subscribers[agentID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.subscribers, agentID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to all clients. Output messages skip
// clients that subscribed to other agents; clients with no subscriptions
// receive everything. A slow client never blocks the fanout; its buffer
// overflow is handled by the write pump.
func (h *Hub) broadcastMessage(o outbound) {
	data, err := json.Marshal(o.msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if o.agentID != "" && len(client.subscriptions) > 0 && !client.subscriptions[o.agentID] {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- outbound{msg: msg}
}

// BroadcastOutput sends an agent's output notification. Clients watching
// other agents are skipped; clients with no subscriptions receive it.
func (h *Hub) BroadcastOutput(agentID string, msg *ws.Message) {
	h.broadcast <- outbound{agentID: agentID, msg: msg}
}

// SetReplayProvider installs the source of buffered agent output sent to
// a client when it subscribes. Call before Run.
func (h *Hub) SetReplayProvider(fn func(agentID string) []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay = fn
}

func (h *Hub) replayLines(agentID string) []string {
	h.mu.RLock()
	fn := h.replay
	h.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(agentID)
}

// SubscribeToAgent marks a client as watching one agent's output
func (h *Hub) SubscribeToAgent(client *Client, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[agentID]; !ok {
		h.subscribers[agentID] = make(map[*Client]bool)
	}
	h.subscribers[agentID][client] = true
	client.subscriptions[agentID] = true

	h.logger.Debug("Client subscribed to agent",
		zap.String("client_id", client.ID),
		zap.String("agent_id", agentID))
}

// UnsubscribeFromAgent removes a client's agent subscription
func (h *Hub) UnsubscribeFromAgent(client *Client, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, agentID)
	if clients, ok := h.subscribers[agentID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscribers, agentID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}
