package api

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	ws "github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/websocket"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/dashboard"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/market"
)

// handleWebSocket upgrades to a live event stream. An optional address query
// parameter limits per-player events to that player.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address != "" && !common.IsHexAddress(address) {
		writeError(w, r, http.StatusBadRequest, "Invalid address")
		return
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(fmt.Sprintf("WebSocket upgrade failed: %v", err), "api")
		return
	}

	client := ws.NewClient(conn, s.deps.Hub, address, s.wsLogger)
	if !s.deps.Hub.RegisterClient(client) {
		conn.Close()
		return
	}
	client.Start()
}

// bindEvents forwards market results and agent payments to the hub.
func (s *Server) bindEvents() {
	if s.deps.Hub == nil {
		return
	}
	if s.deps.Market != nil {
		s.deps.Market.OnResult(func(g market.Guess) {
			msg, err := ws.NewMessage(ws.MessageTypeGuessResult, g)
			if err != nil {
				s.logger.Warn(fmt.Sprintf("Failed to build guess result: %v", err), "api")
				return
			}
			s.deps.Hub.SendToAddress(g.Address, msg)
		})
	}
	if s.deps.Dashboard != nil {
		s.deps.Dashboard.OnPayment(func(p dashboard.Payment) {
			if err := s.deps.Hub.BroadcastPayload(ws.MessageTypeAgentPayment, p); err != nil {
				s.logger.Warn(fmt.Sprintf("Failed to broadcast agent payment: %v", err), "api")
			}
		})
	}
}
