package orders

import (
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Order struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItem     `json:"items"`
	UpdatedBy   string          `json:"updated_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Actor is the dashboard user performing a mutation.
type Actor struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
}

func (a Actor) Validate() error {
	if a.UserID == "" {
		return errs.ErrMissingActor
	}
	return nil
}

// Stamp is the value written to updated_by columns.
func (a Actor) Stamp() string {
	if a.FullName == "" {
		return a.UserID
	}
	return a.UserID + ":" + a.FullName
}

// Lines converts the items to inclusive-priced money lines.
func (o Order) Lines() []money.Line {
	out := make([]money.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, money.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}

// ItemsTotal is Σ(quantity × unit price) before any discount.
func (o Order) ItemsTotal() decimal.Decimal {
	return money.OrderTotal(o.Lines(), decimal.Zero)
}

// Discount is whatever the checkout took off the item sum. Never negative.
func (o Order) Discount() decimal.Decimal {
	disc := money.ComputeDiscount(o.ItemsTotal(), o.TotalAmount)
	if disc.IsNegative() {
		return decimal.Zero
	}
	return disc
}

// RecomputeTotal applies a known discount to the current items.
func RecomputeTotal(o Order, discount decimal.Decimal) decimal.Decimal {
	return money.OrderTotal(o.Lines(), discount)
}
