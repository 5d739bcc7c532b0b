package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

func newTestService() (*Service, *utils.ManualClock) {
	clock := utils.NewManualClock(time.UnixMilli(1_773_000_000_000))
	return NewService(clock), clock
}

func TestNewGameData(t *testing.T) {
	svc, _ := newTestService()

	free := svc.NewGameData(false)
	assert.Equal(t, "game_1773000000000", free.GameID)
	assert.Equal(t, 1, free.LevelDifficulty)
	assert.Equal(t, []string{"xp"}, free.Rewards)
	assert.Equal(t, []string{"shield"}, free.PowerUps)

	premium := svc.NewGameData(true)
	assert.Equal(t, 2, premium.LevelDifficulty)
	assert.Equal(t, []string{"xp", "coins", "gem"}, premium.Rewards)
	assert.Equal(t, []string{"shield", "timefreeze", "doubletap", "multiplier"}, premium.PowerUps)
}

func TestStatsUnknownPlayer(t *testing.T) {
	svc, _ := newTestService()

	st := svc.Stats("0xABC")
	assert.Equal(t, UserStats{Address: "0xabc"}, st)
}

func TestRecordScore(t *testing.T) {
	svc, clock := newTestService()

	res, err := svc.RecordScore("0xAbC", 120, false)
	require.NoError(t, err)
	assert.Equal(t, ScoreResult{Success: true, Message: "Score recorded: 120"}, res)

	clock.Advance(time.Minute)
	_, err = svc.RecordScore("0xabc", 80, true)
	require.NoError(t, err)

	st := svc.Stats("0xABC")
	assert.Equal(t, int64(200), st.TotalScore)
	assert.Equal(t, int64(120), st.BestScore)
	assert.Equal(t, 2, st.GamesPlayed)
	assert.True(t, st.IsPremium)
	assert.Equal(t, clock.Now().UnixMilli(), st.LastPlayed)
	assert.Len(t, svc.Scores("0xabc"), 2)
}

func TestRecordScoreRejectsNegative(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.RecordScore("0xabc", -1, false)
	assert.ErrorIs(t, err, ErrInvalidScore)
	assert.False(t, res.Success)
	assert.Equal(t, 0, svc.Stats("0xabc").GamesPlayed)
}

func TestLeaderboard(t *testing.T) {
	svc, _ := newTestService()
	_, _ = svc.RecordScore("0x1", 50, false)
	_, _ = svc.RecordScore("0x2", 300, false)
	_, _ = svc.RecordScore("0x3", 120, false)
	_, _ = svc.RecordScore("0x1", 500, false)

	board := svc.Leaderboard(2)
	require.Len(t, board, 2)
	assert.Equal(t, "0x1", board[0].Address)
	assert.Equal(t, "0x2", board[1].Address)

	assert.Len(t, svc.Leaderboard(0), 3)
}
