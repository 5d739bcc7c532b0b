package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// envelope is a pre-marshaled message, optionally aimed at one player.
type envelope struct {
	address string
	data    []byte
	msgType MessageType
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages
	broadcast chan envelope

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect clients map
	mu sync.RWMutex

	// Logger
	logger *logrus.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("address", client.Address()).Info("WebSocket client connected")
			h.logger.WithField("count", count).Debug("Active WebSocket clients")

			// Send connection confirmation message
			connectedMsg, err := NewMessage(MessageTypeConnected, ConnectedPayload{
				Message: "Connected to Gasless Arcade",
				Address: client.Address(),
			})
			if err == nil {
				client.Send(connectedMsg)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.logger.WithField("address", client.Address()).Info("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if env.address != "" && !client.Wants(env.address) {
					continue
				}
				if !client.enqueue(env.data) {
					// slow consumer
					go func(c *Client) {
						h.logger.WithField("address", c.Address()).Warn("Client send buffer full, closing connection")
						h.UnregisterClient(c)
					}(client)
				}
			}
			h.mu.RUnlock()

			h.logger.WithField("type", env.msgType).Debug("Broadcast message to clients")
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message *Message) {
	h.enqueue("", message)
}

// SendToAddress sends a message to clients watching address and to clients
// watching everything.
func (h *Hub) SendToAddress(address string, message *Message) {
	h.enqueue(strings.ToLower(address), message)
}

func (h *Hub) enqueue(address string, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcast <- envelope{address: address, data: data, msgType: message.Type}:
	default:
		h.logger.WithField("type", message.Type).Warn("Broadcast queue full, message dropped")
	}
}

// BroadcastPayload creates a message with the given type and payload, then broadcasts it
func (h *Hub) BroadcastPayload(msgType MessageType, payload interface{}) error {
	message, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	h.Broadcast(message)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient sends a client to the register channel. It reports false
// once the hub has stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient sends a client to the unregister channel
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
