// Package money provides decimal-safe price and amount handling.
//
// Prices and spending amounts are represented with shopspring/decimal
// rather than float64 so that totals and cap comparisons never drift from
// rounding error — the same amount summed a thousand times must still
// compare equal to cap*1000.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount wraps decimal.Decimal with the JSON and SQL behavior the store and
// cache adapters expect.
type Amount struct {
	decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

// New builds an Amount from a float64 (used at API boundaries where callers
// send JSON numbers; internal arithmetic always stays in decimal.Decimal).
func New(f float64) Amount {
	return Amount{decimal.NewFromFloat(f)}
}

// NewFromString parses a decimal string, erroring on malformed input.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

func (a Amount) Add(b Amount) Amount      { return Amount{a.Decimal.Add(b.Decimal)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{a.Decimal.Sub(b.Decimal)} }
func (a Amount) Mul(b Amount) Amount      { return Amount{a.Decimal.Mul(b.Decimal)} }
func (a Amount) GreaterThan(b Amount) bool { return a.Decimal.GreaterThan(b.Decimal) }
func (a Amount) LessThan(b Amount) bool    { return a.Decimal.LessThan(b.Decimal) }
func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.Decimal.GreaterThanOrEqual(b.Decimal)
}
func (a Amount) IsZero() bool { return a.Decimal.IsZero() }
func (a Amount) Float64() float64 {
	f, _ := a.Decimal.Float64()
	return f
}

// DivInt divides by a plain integer divisor (e.g. averaging over a count).
func (a Amount) DivInt(n int64) Amount {
	if n == 0 {
		return Zero
	}
	return Amount{a.Decimal.Div(decimal.NewFromInt(n))}
}

// PercentChange returns (b-a)/a * 100, the rolling/period percent-change
// formula used throughout the price monitor and arbitrage detector.
func PercentChange(from, to Amount) Amount {
	if from.IsZero() {
		return Zero
	}
	diff := to.Sub(from)
	pct := diff.Decimal.Div(from.Decimal).Mul(decimal.NewFromInt(100))
	return Amount{pct}
}

// MarshalJSON renders as a plain decimal number, not a string, matching the
// JSON shape clients of the §6 envelope expect from price/amount fields.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UnmarshalJSON accepts both bare numeric and quoted-string decimal JSON,
// the "coerce numeric strings" requirement of spec.md §4.F.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

// Value implements driver.Valuer for the Postgres store adapter.
func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.String(), nil
}

// Scan implements sql.Scanner for the Postgres store adapter.
func (a *Amount) Scan(src interface{}) error {
	return a.Decimal.Scan(src)
}
