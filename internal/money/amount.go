// Package money holds exact decimal token amounts and the conversion between
// human units (0.01 USDC) and on-chain base units (10000).
package money

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

const precision = 34

func arith() *apd.Context {
	return apd.BaseContext.WithPrecision(precision)
}

// Amount is an immutable decimal value.
type Amount struct {
	value apd.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

func Parse(s string) (Amount, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(strings.TrimSpace(s)); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return Amount{}, fmt.Errorf("invalid amount %q: not finite", s)
	}
	return Amount{value: d}, nil
}

// MustParse panics on malformed input. Use for constants only.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromInt64(i int64) Amount {
	var d apd.Decimal
	d.SetInt64(i)
	return Amount{value: d}
}

// FromUnits converts base units into human units: units / 10^decimals.
func FromUnits(units *big.Int, decimals int) Amount {
	var d apd.Decimal
	if units == nil {
		return Amount{}
	}
	d.Coeff.SetMathBigInt(new(big.Int).Abs(units))
	d.Negative = units.Sign() < 0
	d.Exponent = -int32(decimals)
	return Amount{value: d}
}

// ParseUnits parses an integer string of base units.
func ParseUnits(s string, decimals int) (Amount, error) {
	units, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid base-unit amount %q", s)
	}
	return FromUnits(units, decimals), nil
}

// ToUnits converts human units into base units. Amounts with more fractional
// digits than decimals are rejected rather than rounded.
func (a Amount) ToUnits(decimals int) (*big.Int, error) {
	ctx := arith()
	var scaled apd.Decimal
	if _, err := ctx.Mul(&scaled, &a.value, apd.New(1, int32(decimals))); err != nil {
		return nil, fmt.Errorf("failed to scale amount %s: %w", a, err)
	}

	var whole apd.Decimal
	cond, err := ctx.Quantize(&whole, &scaled, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to quantize amount %s: %w", a, err)
	}
	if cond.Inexact() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", a, decimals)
	}

	units, ok := new(big.Int).SetString(whole.Text('f'), 10)
	if !ok {
		return nil, fmt.Errorf("failed to convert amount %s to base units", a)
	}
	return units, nil
}

func (a Amount) Add(other Amount) Amount {
	var result apd.Decimal
	arith().Add(&result, &a.value, &other.value)
	return Amount{value: result}
}

func (a Amount) Sub(other Amount) Amount {
	var result apd.Decimal
	arith().Sub(&result, &a.value, &other.value)
	return Amount{value: result}
}

func (a Amount) Mul(other Amount) Amount {
	var result apd.Decimal
	arith().Mul(&result, &a.value, &other.value)
	return Amount{value: result}
}

// Cmp returns -1, 0 or 1.
func (a Amount) Cmp(other Amount) int {
	return a.value.Cmp(&other.value)
}

func (a Amount) GreaterThan(other Amount) bool { return a.Cmp(other) > 0 }

func (a Amount) IsZero() bool { return a.value.IsZero() }

func (a Amount) IsNegative() bool { return a.value.Negative && !a.value.IsZero() }

// String renders the amount in plain notation with no trailing-zero trimming.
func (a Amount) String() string {
	return a.value.Text('f')
}

// Reduced strips trailing fractional zeros: 0.010000 becomes 0.01.
func (a Amount) Reduced() Amount {
	var r apd.Decimal
	r.Reduce(&a.value)
	return Amount{value: r}
}

// Fixed renders the amount rounded half-even to places fractional digits.
func (a Amount) Fixed(places int) string {
	var r apd.Decimal
	if _, err := arith().Quantize(&r, &a.value, -int32(places)); err != nil {
		return a.String()
	}
	return r.Text('f')
}

// Float64 is for display only; arithmetic stays in decimals.
func (a Amount) Float64() float64 {
	f, err := a.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

// MarshalJSON writes the amount as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = json.Number(s)
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := Parse(raw.String())
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalYAML / UnmarshalYAML keep rules files readable as plain numbers.
func (a Amount) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

func (a *Amount) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
