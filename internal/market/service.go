package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/workers"
)

const (
	CorrectPoints = 10
	WrongPoints   = -10

	DefaultDuration = 10 * time.Second
	maxDuration     = 5 * time.Minute
)

var (
	ErrMissingFields = errors.New("missing required fields: address, crypto, startPrice, guess")
	ErrInvalidGuess  = errors.New("guess must be 'up' or 'down'")
	ErrInvalidTiming = errors.New("duration must be between 1 second and 5 minutes")
	ErrGuessNotFound = errors.New("guess not found")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Guess is one prediction and, once evaluated, its outcome.
type Guess struct {
	ID              string  `json:"id"`
	Address         string  `json:"address"`
	Crypto          string  `json:"crypto"`
	StartPrice      float64 `json:"startPrice"`
	EndPrice        float64 `json:"endPrice,omitempty"`
	UserGuess       string  `json:"userGuess"`
	ActualDirection string  `json:"actualDirection,omitempty"`
	IsCorrect       bool    `json:"isCorrect"`
	PointsEarned    int     `json:"pointsEarned"`
	Status          Status  `json:"status"`
	Error           string  `json:"error,omitempty"`
	Duration        int     `json:"duration"` // seconds
	CreatedAt       int64   `json:"createdAt"`
	Timestamp       int64   `json:"timestamp,omitempty"`
}

type GuessRequest struct {
	Address    string
	Crypto     string
	StartPrice float64
	Guess      string
	Duration   time.Duration
}

type Stats struct {
	TotalGuesses   int     `json:"totalGuesses"`
	CorrectGuesses int     `json:"correctGuesses"`
	WrongGuesses   int     `json:"wrongGuesses"`
	TotalPoints    int     `json:"totalPoints"`
	WinRate        float64 `json:"winRate"`
}

type LeaderboardEntry struct {
	Address        string `json:"address"`
	TotalPoints    int    `json:"totalPoints"`
	CorrectGuesses int    `json:"correctGuesses"`
	TotalGuesses   int    `json:"totalGuesses"`
}

// Service evaluates guesses after their duration against the price feed.
type Service struct {
	feed        PriceFeed
	clock       utils.Clock
	logger      utils.Logger
	evalTimeout time.Duration

	mu       sync.RWMutex
	guesses  map[string]*Guess
	byUser   map[string][]string
	tasks    map[string]*workers.DelayedTask
	onResult []func(Guess)
}

func NewService(feed PriceFeed, clock utils.Clock, logger utils.Logger) *Service {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Service{
		feed:        feed,
		clock:       clock,
		logger:      logger,
		evalTimeout: 15 * time.Second,
		guesses:     make(map[string]*Guess),
		byUser:      make(map[string][]string),
		tasks:       make(map[string]*workers.DelayedTask),
	}
}

// OnResult registers fn to receive every finished guess.
func (s *Service) OnResult(fn func(Guess)) {
	s.mu.Lock()
	s.onResult = append(s.onResult, fn)
	s.mu.Unlock()
}

func (s *Service) Feed() PriceFeed {
	return s.feed
}

// Submit records a pending guess and schedules its evaluation.
func (s *Service) Submit(req GuessRequest) (Guess, error) {
	if req.Address == "" || req.Crypto == "" || req.Guess == "" {
		return Guess{}, ErrMissingFields
	}
	direction := strings.ToLower(req.Guess)
	if direction != "up" && direction != "down" {
		return Guess{}, ErrInvalidGuess
	}
	crypto := strings.ToLower(req.Crypto)
	if !IsSupported(crypto) {
		return Guess{}, fmt.Errorf("%w: %s", ErrUnsupportedCrypto, req.Crypto)
	}
	duration := req.Duration
	if duration == 0 {
		duration = DefaultDuration
	}
	if duration < 0 || duration > maxDuration {
		return Guess{}, ErrInvalidTiming
	}

	g := &Guess{
		ID:         uuid.New().String(),
		Address:    strings.ToLower(req.Address),
		Crypto:     crypto,
		StartPrice: req.StartPrice,
		UserGuess:  direction,
		Status:     StatusPending,
		Duration:   int(duration / time.Second),
		CreatedAt:  s.clock.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.guesses[g.ID] = g
	s.byUser[g.Address] = append(s.byUser[g.Address], g.ID)
	s.tasks[g.ID] = workers.Schedule(duration, func() { s.evaluate(g.ID) })
	snapshot := *g
	s.mu.Unlock()

	return snapshot, nil
}

func (s *Service) evaluate(id string) {
	s.mu.RLock()
	g, ok := s.guesses[id]
	var crypto string
	if ok {
		crypto = g.Crypto
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.evalTimeout)
	defer cancel()
	quote, err := s.feed.Price(ctx, crypto)

	s.mu.Lock()
	delete(s.tasks, id)
	if g.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	g.Timestamp = s.clock.Now().UnixMilli()
	if err != nil {
		g.Status = StatusFailed
		g.Error = err.Error()
	} else {
		Score(g, quote.Price)
	}
	result := *g
	listeners := append([]func(Guess){}, s.onResult...)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(fmt.Sprintf("Error evaluating guess %s: %v", id, err), "market")
	} else {
		s.logger.Info(fmt.Sprintf("Guess %s on %s: %v -> %v (%s), guessed %s, points %d",
			id, result.Crypto, result.StartPrice, result.EndPrice, result.ActualDirection, result.UserGuess, result.PointsEarned), "market")
	}

	for _, fn := range listeners {
		fn(result)
	}
}

// Score fills in the outcome of g for endPrice. An unchanged price is a
// miss for either direction.
func Score(g *Guess, endPrice float64) {
	g.EndPrice = endPrice
	switch {
	case endPrice > g.StartPrice:
		g.ActualDirection = "up"
	case endPrice < g.StartPrice:
		g.ActualDirection = "down"
	default:
		g.ActualDirection = "same"
	}
	g.IsCorrect = g.UserGuess == g.ActualDirection
	g.PointsEarned = WrongPoints
	if g.IsCorrect {
		g.PointsEarned = CorrectPoints
	}
	g.Status = StatusCompleted
}

// Get returns a copy of the guess.
func (s *Service) Get(id string) (Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guesses[id]
	if !ok {
		return Guess{}, ErrGuessNotFound
	}
	return *g, nil
}

// Wait returns a channel closed once the guess has been evaluated or
// cancelled. Unknown or finished guesses get an already closed channel.
func (s *Service) Wait(id string) <-chan struct{} {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	if ok {
		return task.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Cancel stops a pending guess. It reports false for unknown or finished
// guesses.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guesses[id]
	if !ok || g.Status != StatusPending {
		return false
	}
	if task, ok := s.tasks[id]; ok {
		task.Cancel()
		delete(s.tasks, id)
	}
	g.Status = StatusCancelled
	g.Timestamp = s.clock.Now().UnixMilli()
	return true
}

// Guesses returns the address's guesses, oldest first.
func (s *Service) Guesses(address string) []Guess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[strings.ToLower(address)]
	out := make([]Guess, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.guesses[id])
	}
	return out
}

// UserStats counts completed guesses only.
func (s *Service) UserStats(address string) Stats {
	var st Stats
	for _, g := range s.Guesses(address) {
		if g.Status != StatusCompleted {
			continue
		}
		st.TotalGuesses++
		st.TotalPoints += g.PointsEarned
		if g.IsCorrect {
			st.CorrectGuesses++
		}
	}
	st.WrongGuesses = st.TotalGuesses - st.CorrectGuesses
	if st.TotalGuesses > 0 {
		st.WinRate = float64(st.CorrectGuesses) / float64(st.TotalGuesses) * 100
	}
	return st
}

// Leaderboard ranks players by total points.
func (s *Service) Leaderboard(limit int) []LeaderboardEntry {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	addresses := make([]string, 0, len(s.byUser))
	for addr := range s.byUser {
		addresses = append(addresses, addr)
	}
	s.mu.RUnlock()

	board := make([]LeaderboardEntry, 0, len(addresses))
	for _, addr := range addresses {
		st := s.UserStats(addr)
		if st.TotalGuesses == 0 {
			continue
		}
		board = append(board, LeaderboardEntry{
			Address:        addr,
			TotalPoints:    st.TotalPoints,
			CorrectGuesses: st.CorrectGuesses,
			TotalGuesses:   st.TotalGuesses,
		})
	}

	sort.Slice(board, func(i, j int) bool {
		if board[i].TotalPoints != board[j].TotalPoints {
			return board[i].TotalPoints > board[j].TotalPoints
		}
		return board[i].Address < board[j].Address
	})
	if len(board) > limit {
		board = board[:limit]
	}
	return board
}

// Stop cancels every pending evaluation.
func (s *Service) Stop() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Cancel(id)
	}
}
