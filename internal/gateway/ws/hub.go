package ws

import (
	"context"
	"log/slog"
	"sync"

	"talkcart-calls/internal/call"
	"talkcart-calls/internal/relay"
)

// Frame is the envelope written to a client's socket, for notifications and
// relayed signaling payloads alike.
type Frame struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Hub tracks connected clients keyed by user id and fans frames out to them.
// It implements the registry's Notifier and the relay's Gateway.
//
// One live socket per user: a reconnect replaces the old one.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, clients: map[string]*Client{}}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	h.log.Info("ws client connected", "user_id", c.userID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.close()
	h.log.Info("ws client disconnected", "user_id", c.userID)
}

// Notify implements registry.Notifier. Offline users are skipped; durable
// delivery (push and friends) is another collaborator's job.
func (h *Hub) Notify(_ context.Context, n call.NotifyEffect) {
	h.send(n.TargetUserID, Frame{Type: n.Type, CallID: n.CallID, Payload: n.Payload})
}

// DeliverSignal implements relay.Gateway.
func (h *Hub) DeliverSignal(_ context.Context, userID string, sig relay.Signal) error {
	h.send(userID, Frame{Type: "call.signal", CallID: sig.CallID, Payload: sig})
	return nil
}

func (h *Hub) send(userID string, f Frame) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c == nil {
		h.log.Debug("recipient offline, frame dropped", "user_id", userID, "type", f.Type)
		return
	}
	if !c.enqueue(f) {
		h.log.Warn("client send buffer full, frame dropped", "user_id", userID, "type", f.Type)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}
