package money

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/shopspring/decimal"
)

// DefaultTolerance absorbs rounding noise between a computed total and a
// vendor invoice amount.
var DefaultTolerance = decimal.RequireFromString("0.01")

type Match struct {
	OK       bool            `json:"match"`
	Computed decimal.Decimal `json:"computed"`
	// Supplied is nil when the amount was empty or not a number.
	Supplied    *decimal.Decimal `json:"supplied,omitempty"`
	Discrepancy decimal.Decimal  `json:"discrepancy"`
}

// ParseAmount parses a user supplied amount. Empty and non-numeric input
// report ok=false rather than zero.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ValidateAgainstExternalAmount reports whether |computed - supplied| is
// strictly below tolerance. A non-positive tolerance means DefaultTolerance.
func ValidateAgainstExternalAmount(computed decimal.Decimal, supplied string, tolerance decimal.Decimal) Match {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	m := Match{Computed: computed}
	amount, ok := ParseAmount(supplied)
	if !ok {
		return m
	}
	m.Supplied = &amount
	m.Discrepancy = computed.Sub(amount)
	m.OK = m.Discrepancy.Abs().LessThan(tolerance)
	return m
}

type MismatchError struct {
	Match Match
}

func (e *MismatchError) Error() string {
	if e.Match.Supplied == nil {
		return fmt.Sprintf("%s: supplied amount is empty or not a number (computed %s)",
			errs.ErrAmountMismatch, e.Match.Computed.StringFixed(2))
	}
	return fmt.Sprintf("%s: computed %s, supplied %s, discrepancy %s",
		errs.ErrAmountMismatch, e.Match.Computed.StringFixed(2),
		e.Match.Supplied.StringFixed(2), e.Match.Discrepancy.StringFixed(2))
}

func (e *MismatchError) Unwrap() error { return errs.ErrAmountMismatch }

// RequireMatch turns a failed match into an error that blocks persistence.
func RequireMatch(m Match) error {
	if m.OK {
		return nil
	}
	return &MismatchError{Match: m}
}
