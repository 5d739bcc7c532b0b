package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// Client is one browser or dashboard connection. It follows a single player
// address, or every player when the address is empty.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// Encoded frames waiting for the write pump. Never closed; closed
	// signals shutdown instead.
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	address string

	logger *logrus.Logger
}

func NewClient(conn *websocket.Conn, hub *Hub, address string, logger *logrus.Logger) *Client {
	return &Client{
		conn:    conn,
		hub:     hub,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
		address: strings.ToLower(strings.TrimSpace(address)),
		logger:  logger,
	}
}

func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Wants reports whether a per-player event for address should reach c.
func (c *Client) Wants(address string) bool {
	own := c.Address()
	return own == "" || own == address
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send encodes msg and queues it. A full queue drops the message.
func (c *Client) Send(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal message")
		return
	}
	if !c.enqueue(data) {
		c.logger.WithField("address", c.Address()).Warn("Client send queue full, message dropped")
	}
}

// enqueue reports false only when the queue is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("address", c.Address()).Warn("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Debug("Ignoring malformed client message")
			continue
		}
		c.handle(&msg)
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
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.WithError(err).WithField("address", c.Address()).Debug("Failed to write message")
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(msg *Message) {
	switch msg.Type {
	case MessageTypePing:
		if pong, err := NewMessage(MessageTypePong, nil); err == nil {
			c.Send(pong)
		}

	case MessageTypeSubscribe:
		var sub SubscribePayload
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			if reply, err := NewMessage(MessageTypeError, ErrorPayload{Error: "invalid subscribe payload"}); err == nil {
				c.Send(reply)
			}
			return
		}
		c.mu.Lock()
		c.address = strings.ToLower(strings.TrimSpace(sub.Address))
		c.mu.Unlock()

	default:
		c.logger.WithField("type", msg.Type).Debug("Ignoring client message")
	}
}
