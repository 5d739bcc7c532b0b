package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// PaywallConfig is the static part of every 402 challenge plus the free-play
// allowance. Validate it once at startup.
type PaywallConfig struct {
	FreePlayLimit     int
	Amount            string // base units
	Decimals          int
	Currency          string
	Network           string
	Description       string
	PayTo             string
	Asset             string
	MaxTimeoutSeconds int
	InvoiceTTL        time.Duration
	TokenName         string
	TokenVersion      string
	ChainID           int64
	Mode              VerificationMode
}

// PaywallConfigFromConfig reads the paywall keys from cm.
func PaywallConfigFromConfig(cm *utils.ConfigManager) (PaywallConfig, error) {
	mode, err := ParseVerificationMode(cm.GetConfigWithDefault("payment_verification_mode", string(ModeLenient)))
	if err != nil {
		return PaywallConfig{}, err
	}

	cfg := PaywallConfig{
		FreePlayLimit:     cm.GetConfigInt("free_play_limit", 3, 0, 1000000),
		Amount:            cm.GetConfigWithDefault("game_fee_amount", "10000"),
		Decimals:          cm.GetConfigInt("game_fee_decimals", 6, 0, 36),
		Currency:          cm.GetConfigWithDefault("game_fee_currency", "USDC"),
		Network:           cm.GetConfigWithDefault("game_network", "cronos-t3"),
		Description:       cm.GetConfigWithDefault("game_description", "Gasless Arcade Premium Play"),
		PayTo:             cm.GetConfigWithDefault("facilitator_address", ""),
		Asset:             cm.GetConfigWithDefault("usdc_contract", ""),
		MaxTimeoutSeconds: cm.GetConfigInt("game_max_timeout", 300, 1, 86400),
		InvoiceTTL:        time.Duration(cm.GetConfigInt("invoice_ttl_seconds", 300, 1, 86400)) * time.Second,
		TokenName:         cm.GetConfigWithDefault("token_name", "USD Coin"),
		TokenVersion:      cm.GetConfigWithDefault("token_version", "2"),
		ChainID:           cm.GetConfigInt64("chain_id", 338, 1, 1<<53),
		Mode:              mode,
	}
	return cfg, cfg.Validate()
}

func (c PaywallConfig) Validate() error {
	if c.FreePlayLimit < 0 {
		return fmt.Errorf("free play limit must not be negative, got %d", c.FreePlayLimit)
	}
	if _, err := c.AmountUnits(); err != nil {
		return err
	}
	if c.Currency == "" || c.Network == "" {
		return errors.New("paywall currency and network are required")
	}
	if c.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("max timeout must be positive, got %d", c.MaxTimeoutSeconds)
	}
	if c.InvoiceTTL <= 0 {
		return fmt.Errorf("invoice ttl must be positive, got %v", c.InvoiceTTL)
	}
	if c.PayTo != "" && !common.IsHexAddress(c.PayTo) {
		return fmt.Errorf("%w: payee %q", ErrInvalidRecipient, c.PayTo)
	}
	if c.Asset != "" && !common.IsHexAddress(c.Asset) {
		return fmt.Errorf("invalid asset contract address %q", c.Asset)
	}
	switch c.Mode {
	case ModeLenient:
	case ModeStrict:
		if c.PayTo == "" || c.Asset == "" {
			return errors.New("strict verification needs both payee and asset addresses")
		}
	default:
		return fmt.Errorf("unknown payment verification mode %q", c.Mode)
	}
	return nil
}

// AmountUnits returns the fee in base units.
func (c PaywallConfig) AmountUnits() (*big.Int, error) {
	units, ok := new(big.Int).SetString(c.Amount, 10)
	if !ok || units.Sign() < 0 {
		return nil, fmt.Errorf("%w: fee %q is not a non-negative integer", ErrInvalidAmount, c.Amount)
	}
	return units, nil
}

// HumanAmount renders the fee in currency units, e.g. 0.01.
func (c PaywallConfig) HumanAmount() money.Amount {
	units, err := c.AmountUnits()
	if err != nil {
		return money.Zero
	}
	return money.FromUnits(units, c.Decimals).Reduced()
}

// Domain is the signing domain of the fee asset.
func (c PaywallConfig) Domain() Domain {
	return Domain{
		Name:              c.TokenName,
		Version:           c.TokenVersion,
		ChainID:           c.ChainID,
		VerifyingContract: common.HexToAddress(c.Asset),
	}
}

// AccessKind is the outcome of a request against the paywall.
type AccessKind int

const (
	AccessPremium AccessKind = iota
	AccessFree
	AccessPaymentRequired
)

func (k AccessKind) String() string {
	switch k {
	case AccessPremium:
		return "premium"
	case AccessFree:
		return "free"
	case AccessPaymentRequired:
		return "payment_required"
	default:
		return "unknown"
	}
}

type AccessDecision struct {
	Kind              AccessKind
	Payer             string
	FreePlayRemaining int
	Challenge         *Challenge
}

// Gate guards a paid resource: ledger short-circuit, header verification,
// free plays and finally a 402 challenge.
type Gate struct {
	cfg      PaywallConfig
	amount   *big.Int
	invoices *InvoiceStore
	ledger   Ledger
	verifier *Verifier
	clock    utils.Clock
	logger   utils.Logger

	mu        sync.Mutex
	freePlays map[string]int
}

func NewGate(cfg PaywallConfig, ledger Ledger, clock utils.Clock, logger utils.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errors.New("paywall needs a ledger")
	}
	if clock == nil {
		clock = utils.RealClock{}
	}

	amount, _ := cfg.AmountUnits()
	verifier, err := NewVerifier(cfg.Mode, cfg.Domain(), cfg.PayTo, amount, clock)
	if err != nil {
		return nil, err
	}

	invoices := NewInvoiceStore(InvoiceTemplate{
		Amount:      cfg.Amount,
		Currency:    cfg.Currency,
		Network:     cfg.Network,
		Description: cfg.Description,
		TTL:         cfg.InvoiceTTL,
	}, clock, logger)

	return &Gate{
		cfg:       cfg,
		amount:    amount,
		invoices:  invoices,
		ledger:    ledger,
		verifier:  verifier,
		clock:     clock,
		logger:    logger,
		freePlays: make(map[string]int),
	}, nil
}

func (g *Gate) Config() PaywallConfig {
	return g.cfg
}

// Invoices exposes the invoice store, for lookups and the sweep routine.
func (g *Gate) Invoices() *InvoiceStore {
	return g.invoices
}

// Paid reports whether payer already has a ledger record.
func (g *Gate) Paid(ctx context.Context, payer string) (bool, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return false, err
	}
	rec, err := g.ledger.Get(ctx, address)
	if err != nil {
		return false, fmt.Errorf("failed to read payment ledger: %w", err)
	}
	return rec != nil, nil
}

// Verify returns true at once when payer has paid. Otherwise an empty header
// yields false, and a header that passes verification is recorded and yields
// true. A rejected header yields false with a nil error; the error return is
// reserved for ledger failures.
func (g *Gate) Verify(ctx context.Context, payer string, header string) (bool, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return false, err
	}

	paid, err := g.Paid(ctx, address)
	if err != nil || paid {
		return paid, err
	}

	if header == "" {
		return false, nil
	}

	verification, err := g.verifier.Verify(address, header)
	if err != nil {
		if IsProofError(err) {
			g.debug(fmt.Sprintf("Payment header from %s rejected: %v", address, err))
			return false, nil
		}
		return false, err
	}

	if _, err := g.record(ctx, address, verification); err != nil {
		return false, err
	}
	return true, nil
}

// Record stores a payment for payer from header. It is idempotent: a payer
// with a record keeps it and created is false.
func (g *Gate) Record(ctx context.Context, payer string, header string) (bool, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return false, err
	}
	proof, err := DecodeProof(header)
	if err != nil {
		return false, err
	}
	return g.record(ctx, address, &Verification{Proof: proof})
}

func (g *Gate) record(ctx context.Context, address string, verification *Verification) (bool, error) {
	rec := PaymentRecord{
		Address:   address,
		Amount:    g.cfg.Amount,
		ProofRef:  ProofRef(verification.Proof.Raw),
		Proof:     verification.Proof.Raw,
		Payer:     verification.Signer,
		Timestamp: g.clock.Now(),
	}

	created, err := g.ledger.Record(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("failed to record payment: %w", err)
	}
	if created && g.logger != nil {
		g.logger.Info(fmt.Sprintf("Payment recorded for %s (%s %s, %s proof, ref %s)",
			address, g.cfg.Amount, g.cfg.Currency, verification.Proof.Kind, rec.ProofRef), "paywall")
	}
	return created, nil
}

// Access decides how to serve one request for resource by payer. Free plays
// are counted in arrival order per payer.
func (g *Gate) Access(ctx context.Context, payer string, header string, resource string) (*AccessDecision, error) {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return nil, err
	}

	paid, err := g.Verify(ctx, address, header)
	if err != nil {
		return nil, err
	}
	if paid {
		return &AccessDecision{Kind: AccessPremium, Payer: address}, nil
	}

	g.mu.Lock()
	used := g.freePlays[address]
	if used < g.cfg.FreePlayLimit {
		g.freePlays[address] = used + 1
		g.mu.Unlock()
		return &AccessDecision{
			Kind:              AccessFree,
			Payer:             address,
			FreePlayRemaining: g.cfg.FreePlayLimit - used - 1,
		}, nil
	}
	g.mu.Unlock()

	challenge, err := g.Challenge(address, resource)
	if err != nil {
		return nil, err
	}
	return &AccessDecision{Kind: AccessPaymentRequired, Payer: address, Challenge: challenge}, nil
}

// FreePlaysUsed returns how many free plays payer has consumed.
func (g *Gate) FreePlaysUsed(payer string) int {
	address, err := NormalizeAddress(payer)
	if err != nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freePlays[address]
}

// Requirements is the static requirements template for resource.
func (g *Gate) Requirements(resource string) PaymentRequirements {
	req := PaymentRequirements{
		Scheme:            "exact",
		Network:           g.cfg.Network,
		MaxAmountRequired: g.cfg.Amount,
		Resource:          resource,
		Description:       g.cfg.Description,
		MimeType:          "application/json",
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: g.cfg.MaxTimeoutSeconds,
		Asset:             g.cfg.Asset,
		Extra: &PaymentRequirementsExtra{
			Name:    g.cfg.TokenName,
			Version: g.cfg.TokenVersion,
			ChainID: g.cfg.ChainID,
		},
	}
	if g.cfg.Mode == ModeStrict {
		req.Extra.ProofFormat = ProofPayload.String()
	}
	return req
}

// Challenge assembles the 402 content around payer's open invoice for
// resource. A new invoice is issued once the previous one expires.
func (g *Gate) Challenge(payer string, resource string) (*Challenge, error) {
	invoice, err := g.invoices.Issue(payer, resource)
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Invoice:      invoice,
		Requirements: g.Requirements(resource),
		Message:      fmt.Sprintf("Pay %s %s to continue playing", g.cfg.HumanAmount(), g.cfg.Currency),
		Headers: map[string]string{
			"X-Payment-Required":    "true",
			"X-Payment-Amount":      g.cfg.Amount,
			"X-Payment-Currency":    g.cfg.Currency,
			"X-Payment-Network":     g.cfg.Network,
			"X-Payment-To":          g.cfg.PayTo,
			"X-Payment-Description": "Continue playing Gasless Arcade",
			"X-Payment-Timeout":     strconv.Itoa(g.cfg.MaxTimeoutSeconds),
			"X-Invoice-Id":          invoice.ID,
		},
	}, nil
}

func (g *Gate) debug(message string) {
	if g.logger != nil {
		g.logger.Debug(message, "paywall")
	}
}
