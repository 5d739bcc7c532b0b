package api

import (
	"errors"
	"fmt"
	"net/http"

	ws "github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/websocket"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/game"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
)

const playResource = "/api/play"

type playResponse struct {
	Allowed           bool          `json:"allowed"`
	IsPremium         bool          `json:"isPremium"`
	FreePlayRemaining *int          `json:"freePlayRemaining,omitempty"`
	GameData          game.GameData `json:"gameData"`
}

type verifyPaymentRequest struct {
	Address       string `json:"address"`
	PaymentHeader string `json:"paymentHeader"`
}

// PaymentRecordedPayload is pushed to a player's sockets once their payment
// lands in the ledger.
type PaymentRecordedPayload struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// handlePlay serves GET /api/play?address=. A paid player gets a premium
// session, then free plays are consumed, then a 402 challenge is issued.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, r, http.StatusBadRequest, "Address required")
		return
	}
	header := r.Header.Get(payment.HeaderName)

	paidBefore := false
	if header != "" {
		paid, err := s.deps.Paywall.Paid(r.Context(), address)
		if err != nil && !errors.Is(err, payment.ErrInvalidPayer) {
			s.logger.Error(fmt.Sprintf("Play endpoint error: %v", err), "api")
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		}
		paidBefore = paid
	}

	decision, err := s.deps.Paywall.Access(r.Context(), address, header, playResource)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidPayer) {
			writeError(w, r, http.StatusBadRequest, "Invalid address")
			return
		}
		s.logger.Error(fmt.Sprintf("Play endpoint error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch decision.Kind {
	case payment.AccessPremium:
		if header != "" && !paidBefore {
			s.notifyPaymentRecorded(decision.Payer)
		}
		writeJSON(w, http.StatusOK, playResponse{
			Allowed:   true,
			IsPremium: true,
			GameData:  s.deps.Game.NewGameData(true),
		})
	case payment.AccessFree:
		remaining := decision.FreePlayRemaining
		writeJSON(w, http.StatusOK, playResponse{
			Allowed:           true,
			IsPremium:         false,
			FreePlayRemaining: &remaining,
			GameData:          s.deps.Game.NewGameData(false),
		})
	default:
		for k, v := range decision.Challenge.Headers {
			w.Header().Set(k, v)
		}
		writeJSON(w, http.StatusPaymentRequired, decision.Challenge.Body())
	}
}

// handleVerifyPayment checks a payment header out of band and records it.
func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"success": false,
			"error":   "Invalid payment",
		})
		return
	}

	paidBefore, err := s.deps.Paywall.Paid(r.Context(), req.Address)
	if err != nil && !errors.Is(err, payment.ErrInvalidPayer) {
		s.logger.Error(fmt.Sprintf("Verify payment error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Payment verification failed")
		return
	}

	valid, err := s.deps.Paywall.Verify(r.Context(), req.Address, req.PaymentHeader)
	if err != nil && !errors.Is(err, payment.ErrInvalidPayer) {
		s.logger.Error(fmt.Sprintf("Verify payment error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Payment verification failed")
		return
	}
	if !valid {
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"success": false,
			"error":   "Invalid payment",
		})
		return
	}

	if !paidBefore {
		s.notifyPaymentRecorded(req.Address)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Payment verified",
	})
}

func (s *Server) notifyPaymentRecorded(address string) {
	if s.deps.Hub == nil {
		return
	}
	cfg := s.deps.Paywall.Config()
	msg, err := ws.NewMessage(ws.MessageTypePaymentRecorded, PaymentRecordedPayload{
		Address:  address,
		Amount:   cfg.HumanAmount().String(),
		Currency: cfg.Currency,
	})
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to build payment notification: %v", err), "api")
		return
	}
	s.deps.Hub.SendToAddress(address, msg)
}
