package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// InvoiceTemplate holds the static part of every invoice.
type InvoiceTemplate struct {
	Amount      string // base units
	Currency    string
	Network     string
	Description string
	TTL         time.Duration
}

// InvoiceStore issues invoices and keeps them in memory until swept.
type InvoiceStore struct {
	template InvoiceTemplate
	clock    utils.Clock
	logger   utils.Logger

	mu       sync.RWMutex
	invoices map[string]Invoice
	open     map[openKey]string
}

// openKey identifies the invoice currently offered to a payer for a resource.
type openKey struct {
	address  string
	resource string
}

func NewInvoiceStore(template InvoiceTemplate, clock utils.Clock, logger utils.Logger) *InvoiceStore {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if template.TTL <= 0 {
		template.TTL = 5 * time.Minute
	}
	return &InvoiceStore{
		template: template,
		clock:    clock,
		logger:   logger,
		invoices: make(map[string]Invoice),
		open:     make(map[openKey]string),
	}
}

// NormalizeAddress lower-cases a payer address. Hex addresses must be 20 bytes.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" || strings.ContainsAny(address, " \t\r\n") {
		return "", ErrInvalidPayer
	}
	if strings.HasPrefix(strings.ToLower(address), "0x") && !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: %q is not a hex address", ErrInvalidPayer, address)
	}
	return strings.ToLower(address), nil
}

// Generate issues a fresh invoice for payer.
func (s *InvoiceStore) Generate(payer string) (Invoice, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return Invoice{}, err
	}

	invoice := s.newInvoice(address, s.clock.Now())
	s.mu.Lock()
	s.invoices[invoice.ID] = invoice
	s.mu.Unlock()

	s.issued(invoice)
	return invoice, nil
}

// Issue returns payer's unexpired invoice for resource, issuing a new one
// when there is none. Repeated 402s for the same play share one invoice.
func (s *InvoiceStore) Issue(payer string, resource string) (Invoice, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return Invoice{}, err
	}

	now := s.clock.Now()
	key := openKey{address: address, resource: resource}

	s.mu.Lock()
	if id, ok := s.open[key]; ok {
		if invoice, ok := s.invoices[id]; ok && !invoice.Expired(now) {
			s.mu.Unlock()
			return invoice, nil
		}
	}
	invoice := s.newInvoice(address, now)
	s.invoices[invoice.ID] = invoice
	s.open[key] = invoice.ID
	s.mu.Unlock()

	s.issued(invoice)
	return invoice, nil
}

func (s *InvoiceStore) newInvoice(address string, now time.Time) Invoice {
	return Invoice{
		ID:          uuid.NewString(),
		Address:     address,
		Amount:      s.template.Amount,
		Currency:    s.template.Currency,
		Network:     s.template.Network,
		Description: s.template.Description,
		Timestamp:   now.UnixMilli(),
		ExpiresAt:   now.Add(s.template.TTL).UnixMilli(),
	}
}

func (s *InvoiceStore) issued(invoice Invoice) {
	if s.logger != nil {
		s.logger.Debug(fmt.Sprintf("Invoice %s issued to %s (%s %s)", invoice.ID, invoice.Address, invoice.Amount, invoice.Currency), "invoices")
	}
}

// Get returns an invoice by id. Expired invoices are still returned until swept.
func (s *InvoiceStore) Get(id string) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return invoice, nil
}

// Len returns the number of stored invoices.
func (s *InvoiceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices)
}

// Sweep drops expired invoices and returns how many were removed.
func (s *InvoiceStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, invoice := range s.invoices {
		if invoice.Expired(now) {
			delete(s.invoices, id)
			removed++
		}
	}
	for key, id := range s.open {
		if _, ok := s.invoices[id]; !ok {
			delete(s.open, key)
		}
	}
	return removed
}

// StartCleanupRoutine sweeps expired invoices every interval until ctx is done.
func (s *InvoiceStore) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 && s.logger != nil {
					s.logger.Info(fmt.Sprintf("Swept %d expired invoices", removed), "invoices")
				}
			}
		}
	}()
}
