package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/middleware"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/dashboard"
)

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dashboard.Stats(r.Context())
	if err != nil {
		s.logger.Error(fmt.Sprintf("Agent stats error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch agent stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAgentPayment appends one payment to the dashboard history.
func (s *Server) handleAgentPayment(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, dashboard.ErrInvalidBody.Error())
		return
	}

	in, err := dashboard.ParsePaymentInput(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.deps.Dashboard.AddPayment(r.Context(), in)
	if err != nil {
		if errors.Is(err, dashboard.ErrGameRequired) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to add agent payment: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to record payment")
		return
	}

	if claims, err := middleware.GetClaims(r); err == nil {
		s.logger.Debug(fmt.Sprintf("Agent %s reported %s payment of %s %s",
			claims.AgentAddress, p.Status, p.Amount, p.Currency), "api")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleAgentConfig updates the dashboard's balance, daily limit or currency.
func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	var update dashboard.ConfigUpdate
	if err := readJSON(r, &update); err != nil {
		writeError(w, r, http.StatusBadRequest, dashboard.ErrInvalidBody.Error())
		return
	}
	if (update.Balance != nil && update.Balance.IsNegative()) ||
		(update.DailyLimit != nil && update.DailyLimit.IsNegative()) {
		writeError(w, r, http.StatusBadRequest, "amounts must not be negative")
		return
	}

	if err := s.deps.Dashboard.UpdateConfig(r.Context(), update); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to update agent config: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to update agent config")
		return
	}

	stats, err := s.deps.Dashboard.Stats(r.Context())
	if err != nil {
		s.logger.Error(fmt.Sprintf("Agent stats error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch agent stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
