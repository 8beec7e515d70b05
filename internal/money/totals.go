// Package money computes subtotal, tax and grand totals for priced line
// items and checks externally supplied amounts against them.
//
// All arithmetic is done on decimal.Decimal at full precision. Rounding to
// two places happens only for display (Totals.Rounded).
package money

import (
	"fmt"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/shopspring/decimal"
)

type TaxMode string

const (
	// TaxInclusive: unit prices already contain tax, no tax line.
	TaxInclusive TaxMode = "inclusive"
	// TaxExclusivePerLine: each line carries its own GST rate.
	TaxExclusivePerLine TaxMode = "exclusive-per-line"
	// TaxExclusiveFlat: one GST rate applied to the whole subtotal.
	TaxExclusiveFlat TaxMode = "exclusive-flat"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultFlatGst is used by TaxExclusiveFlat when the purchase order
	// carries no rate.
	DefaultFlatGst = decimal.NewFromInt(18)
)

func (m TaxMode) Valid() bool {
	switch m {
	case TaxInclusive, TaxExclusivePerLine, TaxExclusiveFlat:
		return true
	}
	return false
}

type Line struct {
	Quantity      int              `json:"quantity"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	GstPercentage *decimal.Decimal `json:"gst_percentage,omitempty"`
}

// Subtotal is quantity × unit price.
func (l Line) Subtotal() decimal.Decimal {
	return decimal.NewFromInt(int64(l.Quantity)).Mul(l.UnitPrice)
}

func (l Line) gst() decimal.Decimal {
	if l.GstPercentage == nil {
		return decimal.Zero
	}
	return *l.GstPercentage
}

type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Rounded returns the totals rounded to 2 decimal places for display.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal:   t.Subtotal.Round(2),
		Tax:        t.Tax.Round(2),
		GrandTotal: t.GrandTotal.Round(2),
	}
}

type params struct {
	flatGst *decimal.Decimal
}

type Option func(*params)

// WithFlatGst sets the rate for TaxExclusiveFlat. A nil rate keeps
// DefaultFlatGst.
func WithFlatGst(rate *decimal.Decimal) Option {
	return func(p *params) { p.flatGst = rate }
}

// Compute totals the lines under the given tax mode.
func Compute(lines []Line, mode TaxMode, opts ...Option) (Totals, error) {
	if !mode.Valid() {
		return Totals{}, fmt.Errorf("unknown tax mode %q", mode)
	}
	var p params
	for _, o := range opts {
		o(&p)
	}

	var subtotal, perLineTax decimal.Decimal
	for i, l := range lines {
		if l.Quantity < 0 {
			return Totals{}, errs.Invalid(errs.ErrInvalidQuantity, "line %d: quantity %d", i+1, l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, errs.Invalid(errs.ErrInvalidPrice, "line %d: unit price %s", i+1, l.UnitPrice)
		}
		if l.gst().IsNegative() {
			return Totals{}, errs.Invalid(errs.ErrInvalidPrice, "line %d: gst %s", i+1, l.gst())
		}
		ls := l.Subtotal()
		subtotal = subtotal.Add(ls)
		perLineTax = perLineTax.Add(ls.Mul(l.gst()).Div(hundred))
	}

	t := Totals{Subtotal: subtotal}
	switch mode {
	case TaxInclusive:
		t.Tax = decimal.Zero
	case TaxExclusivePerLine:
		t.Tax = perLineTax
	case TaxExclusiveFlat:
		rate := DefaultFlatGst
		if p.flatGst != nil {
			rate = *p.flatGst
		}
		if rate.IsNegative() {
			return Totals{}, errs.Invalid(errs.ErrInvalidPrice, "flat gst %s", rate)
		}
		t.Tax = subtotal.Mul(rate).Div(hundred)
	}
	t.GrandTotal = t.Subtotal.Add(t.Tax)
	return t, nil
}

// OrderTotal is Σ(quantity × unit price) minus discount, floored at zero.
func OrderTotal(lines []Line, discount decimal.Decimal) decimal.Decimal {
	var sum decimal.Decimal
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	total := sum.Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ComputeDiscount derives the discount applied upstream. Display only: the
// persisted order total stays authoritative.
func ComputeDiscount(itemsTotalBeforeDiscount, orderTotalAfterDiscount decimal.Decimal) decimal.Decimal {
	return itemsTotalBeforeDiscount.Sub(orderTotalAfterDiscount)
}
