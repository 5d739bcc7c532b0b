package payment

import (
	"context"
	"sync"
)

// Ledger stores at most one payment record per payer.
type Ledger interface {
	// Get returns the record for payer, or nil when none exists.
	Get(ctx context.Context, payer string) (*PaymentRecord, error)
	// Record stores rec unless a record for rec.Address already exists.
	// created is false for the idempotent no-op case.
	Record(ctx context.Context, rec PaymentRecord) (created bool, err error)
	// List returns all records, newest first.
	List(ctx context.Context) ([]PaymentRecord, error)
}

// MemoryLedger is the in-process Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]PaymentRecord
	order   []string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]PaymentRecord)}
}

func (l *MemoryLedger) Get(_ context.Context, payer string) (*PaymentRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[payer]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *MemoryLedger) Record(_ context.Context, rec PaymentRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[rec.Address]; exists {
		return false, nil
	}
	l.records[rec.Address] = rec
	l.order = append(l.order, rec.Address)
	return true, nil
}

func (l *MemoryLedger) List(_ context.Context) ([]PaymentRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]PaymentRecord, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		out = append(out, l.records[l.order[i]])
	}
	return out, nil
}

// Len returns the number of payers with a record.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
