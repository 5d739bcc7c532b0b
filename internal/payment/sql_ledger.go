package payment

import (
	"context"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/database"
)

// SQLLedger is a Ledger persisted in the payment_records table. The primary
// key on address makes Record idempotent across restarts.
type SQLLedger struct {
	db *database.SQLiteManager
}

func NewSQLLedger(db *database.SQLiteManager) *SQLLedger {
	return &SQLLedger{db: db}
}

func (l *SQLLedger) Get(ctx context.Context, payer string) (*PaymentRecord, error) {
	row, err := l.db.GetPaymentRecord(ctx, payer)
	if err != nil || row == nil {
		return nil, err
	}
	rec := recordFromRow(row)
	return &rec, nil
}

func (l *SQLLedger) Record(ctx context.Context, rec PaymentRecord) (bool, error) {
	return l.db.InsertPaymentRecord(ctx, &database.PaymentRecordRow{
		Address:   rec.Address,
		Amount:    rec.Amount,
		ProofRef:  rec.ProofRef,
		Proof:     rec.Proof,
		InvoiceID: rec.InvoiceID,
		Payer:     rec.Payer,
		CreatedAt: rec.Timestamp,
	})
}

func (l *SQLLedger) List(ctx context.Context) ([]PaymentRecord, error) {
	rows, err := l.db.ListPaymentRecords(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]PaymentRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, nil
}

func recordFromRow(row *database.PaymentRecordRow) PaymentRecord {
	return PaymentRecord{
		Address:   row.Address,
		Amount:    row.Amount,
		ProofRef:  row.ProofRef,
		Proof:     row.Proof,
		InvoiceID: row.InvoiceID,
		Payer:     row.Payer,
		Timestamp: row.CreatedAt,
	}
}
