package database

import (
	"context"
	"database/sql"
	"time"
)

// PaymentRecordRow is a stored paywall payment, one per payer address.
type PaymentRecordRow struct {
	Address   string
	Amount    string
	ProofRef  string
	Proof     string
	InvoiceID string
	Payer     string
	CreatedAt time.Time
}

// InitPaymentRecordsTable creates the payment_records table
func (sqlm *SQLiteManager) InitPaymentRecordsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS payment_records (
		address TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		proof_ref TEXT NOT NULL,
		proof TEXT NOT NULL,
		invoice_id TEXT,
		payer TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_records_created ON payment_records(created_at);
	`

	_, err := sqlm.db.Exec(query)
	return err
}

// InsertPaymentRecord stores row unless the address already has a record.
// It returns false when the row already existed.
func (sqlm *SQLiteManager) InsertPaymentRecord(ctx context.Context, row *PaymentRecordRow) (bool, error) {
	query := `
	INSERT INTO payment_records (address, amount, proof_ref, proof, invoice_id, payer, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(address) DO NOTHING
	`

	result, err := ExecWithLogging(ctx, sqlm.db, query, sqlm.logger, "database",
		row.Address,
		row.Amount,
		row.ProofRef,
		row.Proof,
		nullString(row.InvoiceID),
		nullString(row.Payer),
		row.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetPaymentRecord returns the record for address, or nil if none exists.
func (sqlm *SQLiteManager) GetPaymentRecord(ctx context.Context, address string) (*PaymentRecordRow, error) {
	query := `
	SELECT address, amount, proof_ref, proof, invoice_id, payer, created_at
	FROM payment_records WHERE address = ?
	`

	return QueryRowSingle(ctx, sqlm.db, query,
		func(row *sql.Row) (*PaymentRecordRow, error) {
			return scanPaymentRecord(row)
		},
		sqlm.logger, "database", address)
}

// ListPaymentRecords returns all records newest first.
func (sqlm *SQLiteManager) ListPaymentRecords(ctx context.Context) ([]*PaymentRecordRow, error) {
	query := `
	SELECT address, amount, proof_ref, proof, invoice_id, payer, created_at
	FROM payment_records ORDER BY created_at DESC, address
	`

	return QueryRows(ctx, sqlm.db, query,
		func(rows *sql.Rows) (*PaymentRecordRow, error) {
			return scanPaymentRecord(rows)
		},
		sqlm.logger, "database")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymentRecord(s rowScanner) (*PaymentRecordRow, error) {
	var (
		row       PaymentRecordRow
		invoiceID sql.NullString
		payer     sql.NullString
		createdAt int64
	)
	if err := s.Scan(&row.Address, &row.Amount, &row.ProofRef, &row.Proof, &invoiceID, &payer, &createdAt); err != nil {
		return nil, err
	}
	row.InvoiceID = ScanNullableString(invoiceID)
	row.Payer = ScanNullableString(payer)
	row.CreatedAt = time.UnixMilli(createdAt)
	return &row, nil
}
