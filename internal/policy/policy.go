// Package policy guards the agent's spending: a per-transaction ceiling, a
// daily ceiling reset lazily at local midnight, and an on/off switch.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

const (
	ReasonAutoPayDisabled = "Auto-pay disabled"
	ReasonDailyLimit      = "Daily spending limit would be exceeded"
)

// Decision is the outcome of a spending check. A denial always has a reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// State is a point-in-time copy of the policy.
type State struct {
	Rules
	DailySpent    money.Amount `json:"dailySpent"`
	LastResetDate time.Time    `json:"lastResetDate"`
}

// SpendingPolicy is safe for concurrent use. All mutation goes through its
// methods.
type SpendingPolicy struct {
	clock utils.Clock

	mu         sync.Mutex
	rules      Rules
	dailySpent money.Amount
	lastReset  time.Time
}

func New(rules Rules, clock utils.Clock) (*SpendingPolicy, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &SpendingPolicy{
		clock:      clock,
		rules:      rules,
		dailySpent: money.Zero,
		lastReset:  clock.Now(),
	}, nil
}

// CanPay is a dry run: it reports whether amount would be allowed now without
// recording anything.
func (p *SpendingPolicy) CanPay(amount money.Amount) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkLocked(amount)
}

// Commit adds amount to today's spend.
func (p *SpendingPolicy) Commit(amount money.Amount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfNewDayLocked()
	p.dailySpent = p.dailySpent.Add(amount)
}

// Reserve checks amount and, if allowed, commits it in the same critical
// section. The caller releases the reservation if the payment later fails.
func (p *SpendingPolicy) Reserve(amount money.Amount) (*Reservation, Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()

	decision := p.checkLocked(amount)
	if !decision.Allowed {
		return nil, decision
	}
	return p.reserveLocked(amount), decision
}

func (p *SpendingPolicy) reserveLocked(amount money.Amount) *Reservation {
	p.dailySpent = p.dailySpent.Add(amount)
	return &Reservation{policy: p, amount: amount, day: p.lastReset}
}

func (p *SpendingPolicy) checkLocked(amount money.Amount) Decision {
	p.resetIfNewDayLocked()

	if !p.rules.AutoPayEnabled {
		return Deny(ReasonAutoPayDisabled)
	}
	if amount.GreaterThan(p.rules.MaxPerTransaction) {
		return Deny(fmt.Sprintf("Amount exceeds max payment per tx (%s)", p.rules.MaxPerTransaction))
	}
	if p.dailySpent.Add(amount).GreaterThan(p.rules.MaxPerDay) {
		return Deny(ReasonDailyLimit)
	}
	return Allow()
}

// resetIfNewDayLocked zeroes the accumulator the first time now falls on a
// later local day than the last reset.
func (p *SpendingPolicy) resetIfNewDayLocked() {
	now := p.clock.Now()
	if p.lastReset.Before(utils.StartOfDay(now)) {
		p.dailySpent = money.Zero
		p.lastReset = now
	}
}

// Snapshot returns the current state after applying any pending reset.
func (p *SpendingPolicy) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetIfNewDayLocked()
	return State{Rules: p.rules, DailySpent: p.dailySpent, LastResetDate: p.lastReset}
}

func (p *SpendingPolicy) Rules() Rules {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rules
}

// SetAutoPay flips the auto-pay switch.
func (p *SpendingPolicy) SetAutoPay(enabled bool) {
	p.mu.Lock()
	p.rules.AutoPayEnabled = enabled
	p.mu.Unlock()
}

// Reservation is spend committed ahead of a payment that may still fail.
type Reservation struct {
	policy *SpendingPolicy
	amount money.Amount
	day    time.Time
	once   sync.Once
}

func (r *Reservation) Amount() money.Amount {
	return r.amount
}

// Release returns the reserved amount. It is a no-op after the first call
// and after a daily reset, since the reset already dropped the spend.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		p := r.policy
		p.mu.Lock()
		defer p.mu.Unlock()

		p.resetIfNewDayLocked()
		if !p.lastReset.Equal(r.day) {
			return
		}
		p.dailySpent = p.dailySpent.Sub(r.amount)
		if p.dailySpent.IsNegative() {
			p.dailySpent = money.Zero
		}
	})
}
