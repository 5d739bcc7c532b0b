package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Dashboard settings keys
const (
	SettingDashboardBalance    = "dashboard_balance"
	SettingDashboardDailyLimit = "dashboard_daily_limit"
	SettingDashboardCurrency   = "dashboard_currency"
)

// InitAppSettingsTable creates the app_settings table for runtime-adjustable values
func (sqlm *SQLiteManager) InitAppSettingsTable() error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`

	if _, err := sqlm.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create app_settings table: %v", err)
	}

	return nil
}

// GetSetting retrieves a setting value by key. A missing key yields "".
func (sqlm *SQLiteManager) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := sqlm.db.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %v", key, err)
	}
	return value, nil
}

// SetSetting sets a setting value (inserts or updates)
func (sqlm *SQLiteManager) SetSetting(ctx context.Context, key string, value string) error {
	_, err := sqlm.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value)

	if err != nil {
		return fmt.Errorf("failed to set setting %s: %v", key, err)
	}
	return nil
}

// DeleteSetting removes a setting
func (sqlm *SQLiteManager) DeleteSetting(ctx context.Context, key string) error {
	_, err := sqlm.db.ExecContext(ctx, "DELETE FROM app_settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %v", key, err)
	}
	return nil
}
