// Package agent is the autonomous payer: it watches the game backend for 402
// challenges, runs each charge past the spending policy and advisory gate,
// and signs the transfer authorization when both agree.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/advisory"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/chain"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/payment"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/policy"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

var ErrInvalidCharge = errors.New("invalid payment challenge")

// Authorizer decides whether a charge may be paid. A positive decision
// carries the reservation holding the spend.
type Authorizer interface {
	Authorize(ctx context.Context, pc advisory.PaymentContext) (policy.Decision, *policy.Reservation)
	Mode() advisory.Mode
}

// Charge is a 402 challenge reduced to what the agent needs to pay it.
type Charge struct {
	Invoice      payment.Invoice
	Requirements payment.PaymentRequirements
	Units        *big.Int
	Amount       money.Amount
}

// ChargeFromChallenge converts a 402 body. decimals scales the base-unit
// amount for the spending checks.
func ChargeFromChallenge(body *payment.ChallengeBody, decimals int) (*Charge, error) {
	if body == nil {
		return nil, ErrInvalidCharge
	}
	req := body.PaymentRequirements

	raw := req.MaxAmountRequired
	if raw == "" {
		raw = body.Invoice.Amount
	}
	units, ok := new(big.Int).SetString(raw, 10)
	if !ok || units.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidCharge, raw)
	}
	if !common.IsHexAddress(req.PayTo) {
		return nil, fmt.Errorf("%w: recipient %q", ErrInvalidCharge, req.PayTo)
	}

	return &Charge{
		Invoice:      body.Invoice,
		Requirements: req,
		Units:        units,
		Amount:       money.FromUnits(units, decimals).Reduced(),
	}, nil
}

func (c *Charge) paymentContext() advisory.PaymentContext {
	currency := c.Invoice.Currency
	if currency == "" {
		currency = "USDC"
	}
	network := c.Invoice.Network
	if network == "" {
		network = c.Requirements.Network
	}
	return advisory.PaymentContext{
		Amount:      c.Amount,
		Currency:    currency,
		InvoiceID:   c.Invoice.ID,
		Description: c.Invoice.Description,
		Recipient:   c.Requirements.PayTo,
		Network:     network,
	}
}

// Result is the outcome of one charge.
type Result struct {
	Success       bool
	Header        string
	Authorization *payment.Authorization
	Reason        string
}

// Config holds the loop settings.
type Config struct {
	PollInterval time.Duration
	Decimals     int
	Game         string
	Token        common.Address
}

func ConfigFromConfig(cm *utils.ConfigManager) Config {
	return Config{
		PollInterval: time.Duration(cm.GetConfigInt("agent_poll_interval_seconds", 30, 1, 86400)) * time.Second,
		Decimals:     cm.GetConfigInt("game_fee_decimals", 6, 0, 36),
		Game:         cm.GetConfigWithDefault("agent_game_name", "Gasless Arcade"),
		Token:        common.HexToAddress(cm.GetConfigWithDefault("usdc_contract", "")),
	}
}

// Agent runs the charge pipeline. ProcessCharge calls are serialized.
type Agent struct {
	cfg        Config
	signer     *payment.Signer
	authorizer Authorizer
	client     *PaywallClient
	chain      chain.Client
	reporter   Reporter
	logger     utils.Logger

	runMu   sync.Mutex
	mu      sync.Mutex
	state   State
	onState func(State)
}

// New builds an agent. client, chain and reporter may be nil: without a
// client the poll loop only watches balances, without a chain it skips
// balance reads.
func New(cfg Config, signer *payment.Signer, authorizer Authorizer, client *PaywallClient, chainClient chain.Client, reporter Reporter, logger utils.Logger) (*Agent, error) {
	if signer == nil || authorizer == nil {
		return nil, errors.New("agent needs a signer and an authorizer")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Decimals < 0 {
		return nil, fmt.Errorf("token decimals must not be negative, got %d", cfg.Decimals)
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Agent{
		cfg:        cfg,
		signer:     signer,
		authorizer: authorizer,
		client:     client,
		chain:      chainClient,
		reporter:   reporter,
		logger:     logger,
		state:      StateIdle,
	}, nil
}

func (a *Agent) Address() common.Address {
	return a.signer.Address()
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnStateChange registers fn to observe every transition. Call it before
// the agent starts working.
func (a *Agent) OnStateChange(fn func(State)) {
	a.onState = fn
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	if a.onState != nil {
		a.onState(s)
	}
}

// ProcessCharge runs one charge through policy, advisory and signing. A
// denial or signing failure is a failed Result, never an error.
func (a *Agent) ProcessCharge(ctx context.Context, charge *Charge) Result {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	defer a.setState(StateIdle)

	pc := charge.paymentContext()
	a.logger.Info(fmt.Sprintf("Processing payment: %s %s for invoice %s (%s)",
		pc.Amount, pc.Currency, pc.InvoiceID, pc.Description), "agent")

	a.setState(StateCheckingPolicy)
	if a.authorizer.Mode() != advisory.ModeRules {
		a.setState(StateCheckingAdvisory)
	}
	decision, reservation := a.authorizer.Authorize(ctx, pc)
	if !decision.Allowed {
		a.setState(StateDenied)
		a.logger.Warn(fmt.Sprintf("Payment denied: %s", decision.Reason), "agent")
		a.report(charge, StatusFailed, decision.Reason)
		return Result{Reason: decision.Reason}
	}

	a.setState(StateSigning)
	header, auth, err := a.sign(charge)
	if err != nil {
		reservation.Release()
		reason := fmt.Sprintf("signing failed: %v", err)
		a.logger.Error(reason, "agent")
		a.report(charge, StatusFailed, reason)
		return Result{Reason: reason}
	}

	a.setState(StateRecording)
	a.logger.Info(fmt.Sprintf("Payment authorized: %s %s to %s (nonce %x)",
		pc.Amount, pc.Currency, pc.Recipient, auth.Message.Nonce[:4]), "agent")
	a.report(charge, StatusSuccess, "")

	return Result{Success: true, Header: header, Authorization: auth}
}

func (a *Agent) sign(charge *Charge) (string, *payment.Authorization, error) {
	signer := a.signer
	if extra := charge.Requirements.Extra; extra != nil && extra.Name != "" && common.IsHexAddress(charge.Requirements.Asset) {
		signer = signer.WithDomain(payment.Domain{
			Name:              extra.Name,
			Version:           extra.Version,
			ChainID:           extra.ChainID,
			VerifyingContract: common.HexToAddress(charge.Requirements.Asset),
		})
	}

	auth, err := signer.Authorize(charge.Requirements.PayTo, charge.Units)
	if err != nil {
		return "", nil, err
	}

	if extra := charge.Requirements.Extra; extra != nil && extra.ProofFormat == payment.ProofPayload.String() {
		header, err := auth.PayloadHeader()
		if err != nil {
			return "", nil, err
		}
		return header, auth, nil
	}
	return auth.Header(), auth, nil
}

func (a *Agent) report(charge *Charge, status string, reason string) {
	currency := charge.Invoice.Currency
	if currency == "" {
		currency = "USDC"
	}
	a.reporter.Report(PaymentReport{
		Game:      a.cfg.Game,
		Amount:    charge.Amount,
		Currency:  currency,
		Status:    status,
		InvoiceID: charge.Invoice.ID,
		Reason:    reason,
	})
}

// PlayRound requests one game. A 402 is paid through ProcessCharge and the
// request retried with the payment header; if the retry is still not premium
// the header is submitted to verify-payment.
func (a *Agent) PlayRound(ctx context.Context) (*PlayResponse, error) {
	if a.client == nil {
		return nil, errors.New("agent has no paywall client")
	}
	address := a.Address().Hex()

	resp, err := a.client.Play(ctx, address, "")
	if err != nil {
		return nil, err
	}
	if !resp.PaymentRequired() {
		a.logPlay(resp)
		return resp, nil
	}

	charge, err := ChargeFromChallenge(resp.Challenge, a.cfg.Decimals)
	if err != nil {
		return resp, err
	}
	result := a.ProcessCharge(ctx, charge)
	if !result.Success {
		return resp, nil
	}

	paid, err := a.client.Play(ctx, address, result.Header)
	if err != nil {
		return nil, err
	}
	if paid.IsPremium {
		a.logPlay(paid)
		return paid, nil
	}

	if err := a.client.VerifyPayment(ctx, address, result.Header); err != nil {
		return paid, fmt.Errorf("payment not accepted: %w", err)
	}
	a.logger.Info("Payment verified by game backend", "agent")
	return a.client.Play(ctx, address, "")
}

func (a *Agent) logPlay(resp *PlayResponse) {
	switch {
	case resp.IsPremium:
		a.logger.Info("Premium game granted", "agent")
	case resp.Allowed:
		a.logger.Info(fmt.Sprintf("Free game granted (%d free plays remaining)", resp.FreePlayRemaining), "agent")
	}
}

// Run logs the agent's configuration, then polls every PollInterval until ctx
// is cancelled. Failures inside a tick are logged and the loop continues.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info(fmt.Sprintf("Gasless Arcade auto-pay agent started: address=%s, mode=%s, poll=%v",
		a.Address().Hex(), a.authorizer.Mode(), a.cfg.PollInterval), "agent")
	if a.client != nil {
		a.logger.Info(fmt.Sprintf("Game API: %s", a.client.BaseURL()), "agent")
	}

	balance, err := a.balance(ctx)
	switch {
	case err != nil:
		a.logger.Warn(fmt.Sprintf("Failed to read agent balance: %v", err), "agent")
	case balance != nil && balance.Sign() == 0:
		a.logger.Warn("Agent balance is 0. The agent won't be able to pay invoices.", "agent")
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Agent stopped", "agent")
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	if balance, err := a.balance(ctx); err != nil {
		a.logger.Warn(fmt.Sprintf("Error in agent loop: %v", err), "agent")
	} else if balance != nil && balance.Sign() > 0 {
		a.logger.Info(fmt.Sprintf("Agent listening... (Balance: %s tCRO)",
			money.FromUnits(balance, 18).Reduced()), "agent")
	}

	if a.client == nil {
		return
	}
	if _, err := a.PlayRound(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn(fmt.Sprintf("Play round failed: %v", err), "agent")
	}
}

func (a *Agent) balance(ctx context.Context) (*big.Int, error) {
	if a.chain == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	native, err := a.chain.BalanceAt(ctx, a.Address(), nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != (common.Address{}) {
		if token, err := chain.TokenBalance(ctx, a.chain, a.cfg.Token, a.Address()); err == nil {
			a.logger.Debug(fmt.Sprintf("Token balance: %s", money.FromUnits(token, a.cfg.Decimals).Reduced()), "agent")
		} else {
			a.logger.Debug(fmt.Sprintf("Token balance unavailable: %v", err), "agent")
		}
	}
	return native, nil
}
