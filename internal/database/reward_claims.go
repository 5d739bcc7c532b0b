package database

import (
	"context"
	"database/sql"
	"time"
)

// RewardClaimRow is a reward payout sent to a player.
type RewardClaimRow struct {
	ID        int64
	Address   string
	Score     int64
	GameMode  string
	AmountWei string
	TxHash    string
	CreatedAt time.Time
}

// InitRewardClaimsTable creates the reward_claims table
func (sqlm *SQLiteManager) InitRewardClaimsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS reward_claims (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		score INTEGER NOT NULL,
		game_mode TEXT NOT NULL,
		amount_wei TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reward_claims_address ON reward_claims(address, score, game_mode);
	`

	_, err := sqlm.db.Exec(query)
	return err
}

// InsertRewardClaim stores row and sets its ID.
func (sqlm *SQLiteManager) InsertRewardClaim(ctx context.Context, row *RewardClaimRow) error {
	query := `
	INSERT INTO reward_claims (address, score, game_mode, amount_wei, tx_hash, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := ExecWithLogging(ctx, sqlm.db, query, sqlm.logger, "database",
		row.Address, row.Score, row.GameMode, row.AmountWei, row.TxHash, row.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	row.ID = id
	return nil
}

// CountRewardClaimsSince counts claims for the same address, score and mode
// created at or after since.
func (sqlm *SQLiteManager) CountRewardClaimsSince(ctx context.Context, address string, score int64, gameMode string, since time.Time) (int, error) {
	query := `
	SELECT COUNT(*) FROM reward_claims
	WHERE address = ? AND score = ? AND game_mode = ? AND created_at >= ?
	`

	var count int
	err := sqlm.db.QueryRowContext(ctx, query, address, score, gameMode, since.UnixMilli()).Scan(&count)
	if err != nil {
		logError(sqlm.logger, "Failed to count reward claims", "database")
		return 0, err
	}
	return count, nil
}

// ListRewardClaims returns claims for address, newest first.
func (sqlm *SQLiteManager) ListRewardClaims(ctx context.Context, address string) ([]*RewardClaimRow, error) {
	query := `
	SELECT id, address, score, game_mode, amount_wei, tx_hash, created_at
	FROM reward_claims WHERE address = ? ORDER BY created_at DESC, id DESC
	`

	return QueryRows(ctx, sqlm.db, query,
		func(rows *sql.Rows) (*RewardClaimRow, error) {
			var (
				row       RewardClaimRow
				createdAt int64
			)
			if err := rows.Scan(&row.ID, &row.Address, &row.Score, &row.GameMode, &row.AmountWei, &row.TxHash, &createdAt); err != nil {
				return nil, err
			}
			row.CreatedAt = time.UnixMilli(createdAt)
			return &row, nil
		},
		sqlm.logger, "database", address)
}
