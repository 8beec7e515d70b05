package inventory

import (
	"context"

	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/shopspring/decimal"
)

// Invoice is what the order invoice print reads.
type Invoice struct {
	Order  orders.Order `json:"order"`
	Totals money.Totals `json:"totals"`
	// Discount is derived for display; Payable is the persisted total.
	Discount decimal.Decimal `json:"discount"`
	Payable  decimal.Decimal `json:"payable"`
}

func (s *Service) Invoice(ctx context.Context, orderID string) (Invoice, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Invoice{}, err
	}
	totals, err := money.Compute(o.Lines(), money.TaxInclusive)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{
		Order:    o,
		Totals:   totals.Rounded(),
		Discount: o.Discount().Round(2),
		Payable:  o.TotalAmount.Round(2),
	}, nil
}
