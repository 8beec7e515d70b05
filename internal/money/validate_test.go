package money

import (
	"errors"
	"testing"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/shopspring/decimal"
)

func TestValidateAgainstExternalAmount(t *testing.T) {
	tests := []struct {
		name     string
		computed string
		supplied string
		want     bool
	}{
		{"exact", "100.00", "100.00", true},
		{"inside tolerance", "100.00", "100.004", true},
		{"outside tolerance", "100.00", "100.02", false},
		{"exactly at tolerance", "100.00", "100.01", false},
		{"below computed inside tolerance", "354.00", "353.995", true},
		{"grn invoice exact", "354.00", "354.00", true},
		{"grn invoice short", "354.00", "353.00", false},
		// The documented GRN walkthrough lists 353.98 against 354.00 as a
		// match. The strict |diff| < 0.01 rule rejects it and the gates
		// follow the rule.
		{"two cents short", "354.00", "353.98", false},
		{"empty", "0", "", false},
		{"blank", "0", "   ", false},
		{"not a number", "12", "twelve", false},
		{"whitespace trimmed", "12.5", " 12.50 ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ValidateAgainstExternalAmount(d(tt.computed), tt.supplied, DefaultTolerance)
			if m.OK != tt.want {
				t.Errorf("match(%s, %q) = %v, want %v (discrepancy %s)", tt.computed, tt.supplied, m.OK, tt.want, m.Discrepancy)
			}
		})
	}
}

func TestValidateUsesDefaultToleranceWhenUnset(t *testing.T) {
	m := ValidateAgainstExternalAmount(d("10"), "10.005", decimal.Zero)
	if !m.OK {
		t.Errorf("expected match with default tolerance, got %+v", m)
	}
	wide := ValidateAgainstExternalAmount(d("10"), "10.5", d("1"))
	if !wide.OK {
		t.Errorf("expected match with tolerance 1, got %+v", wide)
	}
}

func TestRequireMatch(t *testing.T) {
	if err := RequireMatch(ValidateAgainstExternalAmount(d("354"), "354", DefaultTolerance)); err != nil {
		t.Fatalf("RequireMatch() = %v, want nil", err)
	}

	m := ValidateAgainstExternalAmount(d("354"), "353", DefaultTolerance)
	err := RequireMatch(m)
	if !errors.Is(err, errs.ErrAmountMismatch) {
		t.Fatalf("RequireMatch() = %v, want ErrAmountMismatch", err)
	}
	var me *MismatchError
	if !errors.As(err, &me) || !me.Match.Discrepancy.Equal(d("1")) {
		t.Errorf("expected discrepancy 1, got %+v", me)
	}

	if err := RequireMatch(ValidateAgainstExternalAmount(d("1"), "", DefaultTolerance)); err == nil || err.Error() == "" {
		t.Errorf("empty supplied amount should fail with a message, got %v", err)
	}
}
