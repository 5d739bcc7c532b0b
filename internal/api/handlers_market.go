package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/market"
)

type guessRequest struct {
	Address    string   `json:"address"`
	Crypto     string   `json:"crypto"`
	StartPrice *float64 `json:"startPrice"`
	Guess      string   `json:"guess"`
	Duration   int      `json:"duration"` // seconds
}

func marketError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("X-Request-Id", requestID(r))
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// sentence capitalizes an error message for display.
func sentence(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	runes := []rune(msg)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func (s *Server) handleMarketCryptos(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.deps.Market.Feed().Prices(r.Context())
	if err != nil {
		s.logger.Error(fmt.Sprintf("Error fetching cryptos: %v", err), "api")
		marketError(w, r, http.StatusInternalServerError, "Failed to fetch cryptocurrency data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"cryptos":   quotes,
		"timestamp": s.clock.Now().UnixMilli(),
	})
}

func (s *Server) handleMarketPrice(w http.ResponseWriter, r *http.Request) {
	quote, err := s.deps.Market.Feed().Price(r.Context(), chi.URLParam(r, "crypto"))
	if err != nil {
		marketError(w, r, http.StatusBadRequest, sentence(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":                          true,
		"id":                               quote.ID,
		"symbol":                           quote.Symbol,
		"name":                             quote.Name,
		"current_price":                    quote.Price,
		"market_cap_change_percentage_24h": quote.Change24h,
		"timestamp":                        quote.Timestamp,
	})
}

func (s *Server) handleSubmitGuess(w http.ResponseWriter, r *http.Request) {
	var req guessRequest
	if err := readJSON(r, &req); err != nil || req.StartPrice == nil {
		marketError(w, r, http.StatusBadRequest, sentence(market.ErrMissingFields))
		return
	}

	g, err := s.deps.Market.Submit(market.GuessRequest{
		Address:    req.Address,
		Crypto:     req.Crypto,
		StartPrice: *req.StartPrice,
		Guess:      req.Guess,
		Duration:   time.Duration(req.Duration) * time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, market.ErrMissingFields),
			errors.Is(err, market.ErrInvalidGuess),
			errors.Is(err, market.ErrUnsupportedCrypto),
			errors.Is(err, market.ErrInvalidTiming):
			marketError(w, r, http.StatusBadRequest, sentence(err))
		default:
			s.logger.Error(fmt.Sprintf("Error submitting guess: %v", err), "api")
			marketError(w, r, http.StatusInternalServerError, "Failed to submit guess")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"guessId":    g.ID,
		"message":    fmt.Sprintf("Evaluating guess for %s in %d seconds...", req.Crypto, g.Duration),
		"startPrice": g.StartPrice,
		"duration":   g.Duration,
	})
}

func (s *Server) handleGetGuess(w http.ResponseWriter, r *http.Request) {
	g, err := s.deps.Market.Get(chi.URLParam(r, "id"))
	if err != nil {
		marketError(w, r, http.StatusNotFound, sentence(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"guess":   g,
	})
}

func (s *Server) handleCancelGuess(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Market.Cancel(chi.URLParam(r, "id")) {
		marketError(w, r, http.StatusNotFound, "Guess not found or already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Guess cancelled",
	})
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"address": address,
		"stats":   s.deps.Market.UserStats(strings.ToLower(address)),
	})
}

func (s *Server) handleMarketLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	board := s.deps.Market.Leaderboard(limit)
	if board == nil {
		board = []market.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"leaderboard": board,
		"timestamp":   s.clock.Now().UnixMilli(),
	})
}
