// Package advisory layers an optional AI second opinion over the spending
// policy. The AI path never blocks a rule-compliant payment on its own
// failure: errors and timeouts fall back to the policy's verdict.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/policy"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const systemPrompt = "You are a payment security agent. Always respond with valid JSON only."

// Mode selects how the policy and the advisory verdict combine.
type Mode string

const (
	// ModeRules uses the spending policy only.
	ModeRules Mode = "rules"
	// ModeAdvisory lets the advisory verdict decide among payments the
	// policy allows. The ceilings and the auto-pay switch always apply.
	ModeAdvisory Mode = "advisory"
	// ModeBoth requires both the policy and the advisory verdict to allow.
	ModeBoth Mode = "both"
)

// ParseMode accepts the mode names plus the legacy aliases cronos (rules)
// and groq (advisory).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rules", "cronos":
		return ModeRules, nil
	case "advisory", "groq":
		return ModeAdvisory, nil
	case "both":
		return ModeBoth, nil
	default:
		return "", fmt.Errorf("unknown ai mode %q (want rules, advisory or both)", s)
	}
}

// PaymentContext describes the payment under evaluation.
type PaymentContext struct {
	Amount      money.Amount
	Currency    string
	InvoiceID   string
	Description string
	Recipient   string
	Network     string
}

type Config struct {
	Mode    Mode
	Timeout time.Duration
}

// Gate combines the spending policy with the advisory service.
type Gate struct {
	mode      Mode
	timeout   time.Duration
	completer Completer
	policy    *policy.SpendingPolicy
	logger    utils.Logger
}

// NewGate builds a gate. Without a completer any mode degrades to rules with
// a warning.
func NewGate(cfg Config, completer Completer, pol *policy.SpendingPolicy, logger utils.Logger) *Gate {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeRules
	}
	if mode != ModeRules && completer == nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("AI mode %q requested but no completion client is configured, using rules only", mode), "advisory")
		}
		mode = ModeRules
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Gate{
		mode:      mode,
		timeout:   timeout,
		completer: completer,
		policy:    pol,
		logger:    logger,
	}
}

func (g *Gate) Mode() Mode {
	return g.mode
}

// BuildPrompt renders the evaluation request for pc under state.
func BuildPrompt(pc PaymentContext, state policy.State) string {
	recipient := pc.Recipient
	if recipient == "" {
		recipient = "Unknown"
	}
	currency := pc.Currency
	if currency == "" {
		currency = "USDC"
	}

	var b strings.Builder
	b.WriteString("You are an AI payment agent for a blockchain gaming platform. Evaluate whether to approve this payment request.\n\n")
	b.WriteString("Payment Details:\n")
	fmt.Fprintf(&b, "- Amount: %s %s\n", pc.Amount, currency)
	fmt.Fprintf(&b, "- Invoice ID: %s\n", pc.InvoiceID)
	fmt.Fprintf(&b, "- Description: %s\n", pc.Description)
	fmt.Fprintf(&b, "- Recipient: %s\n", recipient)
	fmt.Fprintf(&b, "- Network: %s\n", pc.Network)
	fmt.Fprintf(&b, "- Daily spending so far: %s %s\n", state.DailySpent.Fixed(4), currency)
	fmt.Fprintf(&b, "- Daily limit: %s %s\n", state.MaxPerDay, currency)
	fmt.Fprintf(&b, "- Max per transaction: %s %s\n\n", state.MaxPerTransaction, currency)
	b.WriteString("Rules:\n")
	b.WriteString("1. Amount must be reasonable for gaming (typically 0.01-0.05 USDC)\n")
	b.WriteString("2. Daily spending should not exceed limits\n")
	b.WriteString("3. Only approve legitimate gaming payments\n")
	b.WriteString("4. Reject suspicious or unusually large amounts\n\n")
	b.WriteString("Respond with ONLY a JSON object in this exact format:\n")
	b.WriteString("{\n  \"allowed\": true or false,\n  \"reason\": \"brief explanation\"\n}")
	return b.String()
}

// Evaluate asks the advisory service about pc. A failed or timed-out call
// yields the policy's CanPay verdict for the same amount.
func (g *Gate) Evaluate(ctx context.Context, pc PaymentContext) Decision {
	decision, _ := g.evaluate(ctx, pc)
	return decision
}

func (g *Gate) evaluate(ctx context.Context, pc PaymentContext) (Decision, bool) {
	if g.completer == nil {
		return g.ruleFallback(pc), true
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(pc, g.policy.Snapshot())},
	}

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := g.completer.Complete(callCtx, messages)
		done <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = reply{err: callCtx.Err()}
	}

	if r.err != nil {
		g.warn(fmt.Sprintf("Advisory call failed, falling back to rules: %v", r.err))
		return g.ruleFallback(pc), true
	}

	result := ParseDecision(r.text)
	if raw, ok := result.(Unparseable); ok {
		g.warn(fmt.Sprintf("Failed to parse advisory response: %q", raw.Raw))
	}

	decision := Resolve(result)
	if g.logger != nil {
		verdict := "Denied"
		if decision.Allowed {
			verdict = "Approved"
		}
		g.logger.Info(fmt.Sprintf("Advisory decision: %s - %s", verdict, decision.Reason), "advisory")
	}
	return decision, false
}

func (g *Gate) ruleFallback(pc PaymentContext) Decision {
	d := g.policy.CanPay(pc.Amount)
	return Decision{Allowed: d.Allowed, Reason: d.Reason}
}

// Authorize decides on pc according to the gate's mode and, when allowed,
// returns the spend reservation. The policy is checked first in every mode;
// an advisory veto releases the reservation. The caller releases it if the payment
// fails afterwards.
func (g *Gate) Authorize(ctx context.Context, pc PaymentContext) (policy.Decision, *policy.Reservation) {
	switch g.mode {
	case ModeBoth, ModeAdvisory:
		res, decision := g.policy.Reserve(pc.Amount)
		if !decision.Allowed {
			return decision, nil
		}
		advice, _ := g.evaluate(ctx, pc)
		if !advice.Allowed {
			res.Release()
			return policy.Deny(advice.Reason), nil
		}
		return decision, res

	default:
		res, decision := g.policy.Reserve(pc.Amount)
		return decision, res
	}
}

func (g *Gate) warn(message string) {
	if g.logger != nil {
		g.logger.Warn(message, "advisory")
	}
}
