// Package game holds per-player arcade state: play sessions, stats and the
// score leaderboard.
package game

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var ErrInvalidScore = errors.New("score must not be negative")

// GameData configures one play session.
type GameData struct {
	GameID          string   `json:"gameId"`
	LevelDifficulty int      `json:"levelDifficulty"`
	Rewards         []string `json:"rewards"`
	PowerUps        []string `json:"powerUps"`
}

// UserStats aggregates a player's submitted scores. LastPlayed is unix ms,
// zero if the player never submitted.
type UserStats struct {
	Address     string `json:"address"`
	TotalScore  int64  `json:"totalScore"`
	BestScore   int64  `json:"bestScore"`
	GamesPlayed int    `json:"gamesPlayed"`
	IsPremium   bool   `json:"isPremium"`
	LastPlayed  int64  `json:"lastPlayed"`
}

type ScoreEntry struct {
	Address   string `json:"address"`
	Score     int64  `json:"score"`
	IsPremium bool   `json:"isPremium"`
	Timestamp int64  `json:"timestamp"`
}

// ScoreResult is the reply to a score submission.
type ScoreResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service is safe for concurrent use.
type Service struct {
	clock utils.Clock

	mu     sync.RWMutex
	stats  map[string]*UserStats
	scores []ScoreEntry
}

func NewService(clock utils.Clock) *Service {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Service{
		clock: clock,
		stats: make(map[string]*UserStats),
	}
}

// NewGameData builds the session payload. Premium sessions are harder and
// unlock every reward and power-up.
func (s *Service) NewGameData(premium bool) GameData {
	data := GameData{
		GameID:          fmt.Sprintf("game_%d", s.clock.Now().UnixMilli()),
		LevelDifficulty: 1,
		Rewards:         []string{"xp"},
		PowerUps:        []string{"shield"},
	}
	if premium {
		data.LevelDifficulty = 2
		data.Rewards = []string{"xp", "coins", "gem"}
		data.PowerUps = []string{"shield", "timefreeze", "doubletap", "multiplier"}
	}
	return data
}

// Stats returns a copy of the player's stats; unknown players get zeroes.
func (s *Service) Stats(address string) UserStats {
	addr := strings.ToLower(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[addr]; ok {
		return *st
	}
	return UserStats{Address: addr}
}

// RecordScore folds score into the player's stats.
func (s *Service) RecordScore(address string, score int64, premium bool) (ScoreResult, error) {
	if score < 0 {
		return ScoreResult{Success: false, Message: "Failed to record score"}, ErrInvalidScore
	}
	addr := strings.ToLower(address)
	now := s.clock.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[addr]
	if !ok {
		st = &UserStats{Address: addr}
		s.stats[addr] = st
	}
	st.TotalScore += score
	if score > st.BestScore {
		st.BestScore = score
	}
	st.GamesPlayed++
	st.IsPremium = premium
	st.LastPlayed = now

	s.scores = append(s.scores, ScoreEntry{Address: addr, Score: score, IsPremium: premium, Timestamp: now})

	return ScoreResult{Success: true, Message: fmt.Sprintf("Score recorded: %d", score)}, nil
}

// Leaderboard returns up to limit players by best score, highest first.
func (s *Service) Leaderboard(limit int) []UserStats {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	board := make([]UserStats, 0, len(s.stats))
	for _, st := range s.stats {
		board = append(board, *st)
	}
	s.mu.RUnlock()

	sort.Slice(board, func(i, j int) bool {
		if board[i].BestScore != board[j].BestScore {
			return board[i].BestScore > board[j].BestScore
		}
		return board[i].Address < board[j].Address
	})

	if len(board) > limit {
		board = board[:limit]
	}
	return board
}

// Scores returns the player's submitted scores, oldest first.
func (s *Service) Scores(address string) []ScoreEntry {
	addr := strings.ToLower(address)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScoreEntry
	for _, e := range s.scores {
		if e.Address == addr {
			out = append(out, e)
		}
	}
	return out
}
