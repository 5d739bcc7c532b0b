// Package dashboard keeps the agent's payment history and the headline
// numbers shown on the agent page.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/database"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

var (
	ErrGameRequired   = errors.New("game (string) is required")
	ErrAmountRequired = errors.New("amount (number) is required")
	ErrInvalidBody    = errors.New("invalid JSON body")
)

// Store is the persistence the dashboard needs; *database.SQLiteManager
// satisfies it.
type Store interface {
	InsertAgentPayment(ctx context.Context, row *database.AgentPaymentRow) error
	ListAgentPayments(ctx context.Context, limit int) ([]*database.AgentPaymentRow, error)
	ListAgentPaymentsSince(ctx context.Context, status string, since time.Time) ([]*database.AgentPaymentRow, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key string, value string) error
}

type Payment struct {
	ID        int64        `json:"id,omitempty"`
	Game      string       `json:"game"`
	Amount    money.Amount `json:"amount"`
	Currency  string       `json:"currency"`
	Status    string       `json:"status"`
	InvoiceID string       `json:"invoiceId,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp int64        `json:"timestamp"` // unix ms
}

type Stats struct {
	Balance     money.Amount `json:"balance"`
	TodaysSpend money.Amount `json:"todaysSpend"`
	DailyLimit  money.Amount `json:"dailyLimit"`
	Currency    string       `json:"currency"`
	Payments    []Payment    `json:"payments"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// PaymentInput is a payment as posted by the agent. A zero Timestamp means
// now.
type PaymentInput struct {
	Game      string
	Amount    money.Amount
	Currency  string
	Status    string
	InvoiceID string
	Reason    string
	Timestamp int64
}

// ParsePaymentInput decodes and validates a posted payment. game must be a
// string and amount a JSON number.
func ParsePaymentInput(body []byte) (PaymentInput, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return PaymentInput{}, ErrInvalidBody
	}

	game, ok := raw["game"].(string)
	if !ok {
		return PaymentInput{}, ErrGameRequired
	}
	num, ok := raw["amount"].(json.Number)
	if !ok {
		return PaymentInput{}, ErrAmountRequired
	}
	amount, err := money.Parse(num.String())
	if err != nil {
		return PaymentInput{}, ErrAmountRequired
	}

	in := PaymentInput{Game: game, Amount: amount}
	in.Currency, _ = raw["currency"].(string)
	in.Status, _ = raw["status"].(string)
	in.InvoiceID, _ = raw["invoiceId"].(string)
	in.Reason, _ = raw["reason"].(string)
	if ts, ok := raw["timestamp"].(json.Number); ok {
		if v, err := ts.Int64(); err == nil {
			in.Timestamp = v
		}
	}
	return in, nil
}

// NormalizeStatus maps anything other than pending or failed to success.
func NormalizeStatus(status string) string {
	switch status {
	case StatusPending, StatusFailed:
		return status
	default:
		return StatusSuccess
	}
}

// Defaults seed the headline numbers until they are set explicitly.
type Defaults struct {
	Balance    money.Amount
	DailyLimit money.Amount
	Currency   string
}

func DefaultSettings() Defaults {
	return Defaults{
		Balance:    money.MustParse("0.25"),
		DailyLimit: money.MustParse("0.1"),
		Currency:   "USDC",
	}
}

type Service struct {
	store        Store
	defaults     Defaults
	historyLimit int
	clock        utils.Clock
	onPayment    func(Payment)
}

func NewService(store Store, defaults Defaults, historyLimit int, clock utils.Clock) *Service {
	if clock == nil {
		clock = utils.RealClock{}
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	if defaults.Currency == "" {
		defaults.Currency = "USDC"
	}
	return &Service{
		store:        store,
		defaults:     defaults,
		historyLimit: historyLimit,
		clock:        clock,
	}
}

// FromConfig reads dashboard_currency and dashboard_history_limit.
func FromConfig(cm *utils.ConfigManager, store Store) *Service {
	defaults := DefaultSettings()
	defaults.Currency = cm.GetConfigWithDefault("dashboard_currency", defaults.Currency)
	limit := cm.GetConfigInt("dashboard_history_limit", 50, 1, 1000)
	return NewService(store, defaults, limit, nil)
}

// OnPayment registers fn to run after each stored payment.
func (s *Service) OnPayment(fn func(Payment)) {
	s.onPayment = fn
}

// Stats sums today's successful payments since local midnight and lists the
// latest payments newest first.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.clock.Now()

	todays, err := s.store.ListAgentPaymentsSince(ctx, StatusSuccess, utils.StartOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("failed to read today's payments: %w", err)
	}
	spend := money.Zero
	for _, row := range todays {
		if amount, err := money.Parse(row.Amount); err == nil {
			spend = spend.Add(amount)
		}
	}

	rows, err := s.store.ListAgentPayments(ctx, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read payments: %w", err)
	}
	payments := make([]Payment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, paymentFromRow(row))
	}

	balance, err := s.amountSetting(ctx, database.SettingDashboardBalance, s.defaults.Balance)
	if err != nil {
		return nil, err
	}
	limit, err := s.amountSetting(ctx, database.SettingDashboardDailyLimit, s.defaults.DailyLimit)
	if err != nil {
		return nil, err
	}
	currency, err := s.store.GetSetting(ctx, database.SettingDashboardCurrency)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = s.defaults.Currency
	}

	return &Stats{
		Balance:     balance,
		TodaysSpend: spend.Reduced(),
		DailyLimit:  limit,
		Currency:    currency,
		Payments:    payments,
		UpdatedAt:   now.UnixMilli(),
	}, nil
}

func (s *Service) amountSetting(ctx context.Context, key string, def money.Amount) (money.Amount, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return money.Zero, err
	}
	if raw == "" {
		return def, nil
	}
	amount, err := money.Parse(raw)
	if err != nil {
		return def, nil
	}
	return amount, nil
}

// AddPayment stores in with its status normalized and currency defaulted.
func (s *Service) AddPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	if strings.TrimSpace(in.Game) == "" {
		return Payment{}, ErrGameRequired
	}
	currency := in.Currency
	if currency == "" {
		currency = s.defaults.Currency
	}
	created := s.clock.Now()
	if in.Timestamp > 0 {
		created = time.UnixMilli(in.Timestamp)
	}

	row := &database.AgentPaymentRow{
		Game:      in.Game,
		Amount:    in.Amount.Reduced().String(),
		Currency:  currency,
		Status:    NormalizeStatus(in.Status),
		InvoiceID: in.InvoiceID,
		Reason:    in.Reason,
		CreatedAt: created,
	}
	if err := s.store.InsertAgentPayment(ctx, row); err != nil {
		return Payment{}, fmt.Errorf("failed to store payment: %w", err)
	}

	p := paymentFromRow(row)
	if s.onPayment != nil {
		s.onPayment(p)
	}
	return p, nil
}

// ConfigUpdate changes only the fields that are set.
type ConfigUpdate struct {
	Balance    *money.Amount `json:"balance,omitempty"`
	DailyLimit *money.Amount `json:"dailyLimit,omitempty"`
	Currency   *string       `json:"currency,omitempty"`
}

func (s *Service) UpdateConfig(ctx context.Context, update ConfigUpdate) error {
	if update.Balance != nil {
		if err := s.store.SetSetting(ctx, database.SettingDashboardBalance, update.Balance.String()); err != nil {
			return err
		}
	}
	if update.DailyLimit != nil {
		if err := s.store.SetSetting(ctx, database.SettingDashboardDailyLimit, update.DailyLimit.String()); err != nil {
			return err
		}
	}
	if update.Currency != nil && *update.Currency != "" {
		if err := s.store.SetSetting(ctx, database.SettingDashboardCurrency, *update.Currency); err != nil {
			return err
		}
	}
	return nil
}

func paymentFromRow(row *database.AgentPaymentRow) Payment {
	amount, err := money.Parse(row.Amount)
	if err != nil {
		amount = money.Zero
	}
	return Payment{
		ID:        row.ID,
		Game:      row.Game,
		Amount:    amount,
		Currency:  row.Currency,
		Status:    row.Status,
		InvoiceID: row.InvoiceID,
		Reason:    row.Reason,
		Timestamp: row.CreatedAt.UnixMilli(),
	}
}
