package database

import (
	"context"
	"database/sql"
	"time"
)

// AgentPaymentRow is one payment attempt reported by the agent.
type AgentPaymentRow struct {
	ID        int64
	Game      string
	Amount    string // human units, decimal text
	Currency  string
	Status    string
	InvoiceID string
	Reason    string
	CreatedAt time.Time
}

// InitAgentPaymentsTable creates the agent_payments table
func (sqlm *SQLiteManager) InitAgentPaymentsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS agent_payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'success',
		invoice_id TEXT,
		reason TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_payments_created ON agent_payments(created_at);
	CREATE INDEX IF NOT EXISTS idx_agent_payments_status ON agent_payments(status);
	`

	_, err := sqlm.db.Exec(query)
	return err
}

// InsertAgentPayment stores row and sets its ID.
func (sqlm *SQLiteManager) InsertAgentPayment(ctx context.Context, row *AgentPaymentRow) error {
	query := `
	INSERT INTO agent_payments (game, amount, currency, status, invoice_id, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := ExecWithLogging(ctx, sqlm.db, query, sqlm.logger, "database",
		row.Game,
		row.Amount,
		row.Currency,
		row.Status,
		nullString(row.InvoiceID),
		nullString(row.Reason),
		row.CreatedAt.UnixMilli(),
	)
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

// ListAgentPayments returns up to limit payments, newest first.
func (sqlm *SQLiteManager) ListAgentPayments(ctx context.Context, limit int) ([]*AgentPaymentRow, error) {
	query := `
	SELECT id, game, amount, currency, status, invoice_id, reason, created_at
	FROM agent_payments ORDER BY created_at DESC, id DESC LIMIT ?
	`

	return QueryRows(ctx, sqlm.db, query, scanAgentPayment, sqlm.logger, "database", limit)
}

// ListAgentPaymentsSince returns payments with the given status created at or
// after since.
func (sqlm *SQLiteManager) ListAgentPaymentsSince(ctx context.Context, status string, since time.Time) ([]*AgentPaymentRow, error) {
	query := `
	SELECT id, game, amount, currency, status, invoice_id, reason, created_at
	FROM agent_payments WHERE status = ? AND created_at >= ? ORDER BY created_at DESC, id DESC
	`

	return QueryRows(ctx, sqlm.db, query, scanAgentPayment, sqlm.logger, "database", status, since.UnixMilli())
}

func scanAgentPayment(rows *sql.Rows) (*AgentPaymentRow, error) {
	var (
		row       AgentPaymentRow
		invoiceID sql.NullString
		reason    sql.NullString
		createdAt int64
	)
	if err := rows.Scan(&row.ID, &row.Game, &row.Amount, &row.Currency, &row.Status, &invoiceID, &reason, &createdAt); err != nil {
		return nil, err
	}
	row.InvoiceID = ScanNullableString(invoiceID)
	row.Reason = ScanNullableString(reason)
	row.CreatedAt = time.UnixMilli(createdAt)
	return &row, nil
}
