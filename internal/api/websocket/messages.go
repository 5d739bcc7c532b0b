package websocket

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Arcade events
	MessageTypeGuessResult     MessageType = "market.guess.result"
	MessageTypeAgentPayment    MessageType = "agent.payment"
	MessageTypePaymentRecorded MessageType = "payment.recorded"
	MessageTypeRewardSent      MessageType = "reward.sent"

	// Control message types
	MessageTypeSubscribe MessageType = "subscribe"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"
	MessageTypeConnected MessageType = "connected"
)

// Message is the base structure for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// ConnectedPayload is sent once after registration.
type ConnectedPayload struct {
	Message string `json:"message"`
	Address string `json:"address,omitempty"`
}

// SubscribePayload narrows per-player events to one address.
type SubscribePayload struct {
	Address string `json:"address"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
