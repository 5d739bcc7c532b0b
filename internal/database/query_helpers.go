package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Logger interface for query helpers - compatible with utils.LogsManager
type Logger interface {
	Error(msg, category string)
	Info(msg, category string)
	Warn(msg, category string)
}

// QueryRowSingle runs a single-row query. No rows is not an error: the result
// is nil. Other failures are logged under logContext and returned.
func QueryRowSingle[T any](
	ctx context.Context,
	db *sql.DB,
	query string,
	scanFunc func(*sql.Row) (*T, error),
	logger Logger,
	logContext string,
	args ...interface{},
) (*T, error) {
	result, err := scanFunc(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logError(logger, fmt.Sprintf("Failed to query row: %v", err), logContext)
		return nil, err
	}
	return result, nil
}

// QueryRows runs a multi-row query. Rows that fail to scan are logged and
// skipped.
func QueryRows[T any](
	ctx context.Context,
	db *sql.DB,
	query string,
	scanFunc func(*sql.Rows) (*T, error),
	logger Logger,
	logContext string,
	args ...interface{},
) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		logError(logger, fmt.Sprintf("Failed to query rows: %v", err), logContext)
		return nil, err
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		result, err := scanFunc(rows)
		if err != nil {
			logError(logger, fmt.Sprintf("Failed to scan row: %v", err), logContext)
			continue
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		logError(logger, fmt.Sprintf("Error iterating rows: %v", err), logContext)
		return nil, err
	}

	return results, nil
}

// ExecWithLogging executes a statement and logs on error.
func ExecWithLogging(
	ctx context.Context,
	db *sql.DB,
	query string,
	logger Logger,
	logContext string,
	args ...interface{},
) (sql.Result, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		logError(logger, fmt.Sprintf("Failed to execute query: %v", err), logContext)
		return nil, err
	}
	return result, nil
}

// ScanNullableString converts sql.NullString to string.
func ScanNullableString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func logError(logger Logger, message, category string) {
	if logger != nil {
		logger.Error(message, category)
	}
}
