package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ws "github.com/Trustflow-Network-Labs/gasless-arcade/internal/api/websocket"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/game"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/rewards"
)

type scoreRequest struct {
	Address   string `json:"address"`
	Score     *int64 `json:"score"`
	IsPremium bool   `json:"isPremium"`
}

type claimRewardRequest struct {
	Address  string `json:"address"`
	Score    *int64 `json:"score"`
	GameMode string `json:"gameMode"`
}

// RewardSentPayload announces a confirmed payout to the player's sockets.
type RewardSentPayload struct {
	Address      string `json:"address"`
	TxHash       string `json:"txHash"`
	RewardAmount string `json:"rewardAmount"`
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, r, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Game.Stats(address))
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := readJSON(r, &req); err != nil || req.Address == "" || req.Score == nil {
		writeError(w, r, http.StatusBadRequest, "Address and score required")
		return
	}

	result, err := s.deps.Game.RecordScore(req.Address, *req.Score, req.IsPremium)
	if err != nil {
		if errors.Is(err, game.ErrInvalidScore) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error(fmt.Sprintf("Score submission error: %v", err), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to record score")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"leaderboard": s.deps.Game.Leaderboard(limit),
	})
}

func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	var req claimRewardRequest
	if err := readJSON(r, &req); err != nil || req.Address == "" || req.Score == nil || req.GameMode == "" {
		writeError(w, r, http.StatusBadRequest, "Address, score, and gameMode required")
		return
	}
	if s.deps.Rewards == nil {
		writeError(w, r, http.StatusInternalServerError, "Reward service not initialized")
		return
	}

	result := s.deps.Rewards.Claim(r.Context(), req.Address, *req.Score, req.GameMode)
	if result.RewardAmount == nil {
		s.logger.Error(fmt.Sprintf("Claim reward error for %s: %s", req.Address, result.Error), "api")
		writeError(w, r, http.StatusInternalServerError, "Failed to claim reward")
		return
	}

	formatted := result.Formatted()
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":               false,
			"error":                 result.Error,
			"rewardAmount":          result.RewardAmount.String(),
			"rewardAmountFormatted": formatted,
		})
		return
	}

	s.notifyRewardSent(req.Address, result)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":               true,
		"txHash":                result.TxHash,
		"rewardAmount":          result.RewardAmount.String(),
		"rewardAmountFormatted": formatted,
		"message":               fmt.Sprintf("Reward of %s tCRO sent successfully", formatted),
	})
}

func (s *Server) notifyRewardSent(address string, result rewards.ClaimResult) {
	if s.deps.Hub == nil {
		return
	}
	msg, err := ws.NewMessage(ws.MessageTypeRewardSent, RewardSentPayload{
		Address:      address,
		TxHash:       result.TxHash,
		RewardAmount: result.Formatted(),
	})
	if err != nil {
		s.logger.Warn(fmt.Sprintf("Failed to build reward notification: %v", err), "api")
		return
	}
	s.deps.Hub.SendToAddress(address, msg)
}
