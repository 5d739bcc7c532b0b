package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager handles all database operations
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger utils.Logger
}

// NewSQLiteManager opens (or creates) the database file under the app data
// dir and initializes every table.
func NewSQLiteManager(cm *utils.ConfigManager, logger utils.Logger) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: logger,
	}

	db, err := sqlm.CreateConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %v", err)
	}
	sqlm.db = db

	if err := sqlm.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return sqlm, nil
}

// NewSQLiteManagerWithDB wraps an already open connection, e.g. an
// in-memory database in tests.
func NewSQLiteManagerWithDB(db *sql.DB, logger utils.Logger) (*SQLiteManager, error) {
	sqlm := &SQLiteManager{db: db, logger: logger}
	if err := sqlm.initTables(); err != nil {
		return nil, err
	}
	return sqlm, nil
}

func (sqlm *SQLiteManager) initTables() error {
	// Initialize payment records table
	if err := sqlm.InitPaymentRecordsTable(); err != nil {
		return fmt.Errorf("failed to init payment_records table: %w", err)
	}

	// Initialize agent payments table
	if err := sqlm.InitAgentPaymentsTable(); err != nil {
		return fmt.Errorf("failed to init agent_payments table: %w", err)
	}

	// Initialize app settings table
	if err := sqlm.InitAppSettingsTable(); err != nil {
		return err
	}

	// Initialize reward claims table
	if err := sqlm.InitRewardClaimsTable(); err != nil {
		return fmt.Errorf("failed to init reward_claims table: %w", err)
	}

	if sqlm.logger != nil {
		sqlm.logger.Info("Database tables initialized", "database")
	}
	return nil
}

// CreateConnection creates and configures the database connection
func (sqlm *SQLiteManager) CreateConnection() (*sql.DB, error) {
	// Make sure we have os specific path separator since we are adding this path to host's path
	dbFileName := sqlm.cm.GetConfigWithDefault("database_file", "./gasless-arcade.db")
	switch runtime.GOOS {
	case "linux", "darwin":
		dbFileName = filepath.ToSlash(dbFileName)
	case "windows":
		dbFileName = filepath.FromSlash(dbFileName)
	default:
		err := fmt.Errorf("unsupported OS type `%s`", runtime.GOOS)
		return nil, err
	}

	path := filepath.Join(sqlm.dir, dbFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	newDB := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		newDB = true
	}

	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path))
	if err != nil {
		sqlm.logError(fmt.Sprintf("Can not create database connection. (%s)", err.Error()))
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil && sqlm.logger != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to enable WAL mode: %s", err.Error()), "database")
	}

	if newDB && sqlm.logger != nil {
		sqlm.logger.Info(fmt.Sprintf("Created database %s", path), "database")
	}

	return db, nil
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

// Close closes the database connection
func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}

// PerformMaintenance runs sqlite housekeeping
func (sqlm *SQLiteManager) PerformMaintenance() error {
	if _, err := sqlm.db.Exec("PRAGMA optimize;"); err != nil && sqlm.logger != nil {
		sqlm.logger.Warn(fmt.Sprintf("Failed to optimize database: %v", err), "database")
	}
	return nil
}

func (sqlm *SQLiteManager) logError(message string) {
	if sqlm.logger != nil {
		sqlm.logger.Error(message, "database")
	}
}
