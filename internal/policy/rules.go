package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/money"
	"github.com/Trustflow-Network-Labs/gasless-arcade/internal/utils"
)

// Rules are the agent's spending limits in currency units (e.g. USDC).
type Rules struct {
	MaxPerTransaction money.Amount `yaml:"max_payment_per_tx"`
	MaxPerDay         money.Amount `yaml:"daily_spending_limit"`
	AutoPayEnabled    bool         `yaml:"auto_pay_enabled"`
}

// DefaultRules returns 0.05 per transaction, 0.50 per day, auto-pay on.
func DefaultRules() Rules {
	return Rules{
		MaxPerTransaction: money.MustParse("0.05"),
		MaxPerDay:         money.MustParse("0.50"),
		AutoPayEnabled:    true,
	}
}

func (r Rules) Validate() error {
	if r.MaxPerTransaction.IsNegative() {
		return fmt.Errorf("max payment per tx must not be negative, got %s", r.MaxPerTransaction)
	}
	if r.MaxPerDay.IsNegative() {
		return fmt.Errorf("daily spending limit must not be negative, got %s", r.MaxPerDay)
	}
	return nil
}

// RulesFromConfig reads max_payment_per_tx, daily_spending_limit and
// auto_pay_enabled, falling back to DefaultRules per key.
func RulesFromConfig(cm *utils.ConfigManager) (Rules, error) {
	rules := DefaultRules()

	if v, ok := cm.GetConfig("max_payment_per_tx"); ok && v != "" {
		amount, err := money.Parse(v)
		if err != nil {
			return Rules{}, fmt.Errorf("max_payment_per_tx: %w", err)
		}
		rules.MaxPerTransaction = amount
	}

	if v, ok := cm.GetConfig("daily_spending_limit"); ok && v != "" {
		amount, err := money.Parse(v)
		if err != nil {
			return Rules{}, fmt.Errorf("daily_spending_limit: %w", err)
		}
		rules.MaxPerDay = amount
	}

	rules.AutoPayEnabled = cm.GetConfigBool("auto_pay_enabled", rules.AutoPayEnabled)

	return rules, rules.Validate()
}

// rulesFile mirrors Rules with optional fields so a file may override only
// some limits.
type rulesFile struct {
	MaxPerTransaction *money.Amount `yaml:"max_payment_per_tx"`
	MaxPerDay         *money.Amount `yaml:"daily_spending_limit"`
	AutoPayEnabled    *bool         `yaml:"auto_pay_enabled"`
}

// LoadRulesFile overlays the YAML rules file at path onto base.
func LoadRulesFile(path string, base Rules) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data, base)
}

// ParseRules overlays YAML rules onto base.
func ParseRules(data []byte, base Rules) (Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	if file == (rulesFile{}) {
		return Rules{}, errors.New("rules file sets no limits")
	}

	rules := base
	if file.MaxPerTransaction != nil {
		rules.MaxPerTransaction = *file.MaxPerTransaction
	}
	if file.MaxPerDay != nil {
		rules.MaxPerDay = *file.MaxPerDay
	}
	if file.AutoPayEnabled != nil {
		rules.AutoPayEnabled = *file.AutoPayEnabled
	}

	return rules, rules.Validate()
}
