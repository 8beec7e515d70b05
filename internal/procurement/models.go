// Package procurement covers purchase orders and goods receipt notes: the
// quantity caps on received and rejected goods, and the check of vendor
// invoice amounts against computed totals.
package procurement

import (
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/shopspring/decimal"
)

type PurchaseOrderItem struct {
	ID              string           `json:"id"`
	ArticleID       string           `json:"article_id"`
	CostPrice       decimal.Decimal  `json:"cost_price"`
	OrderedQuantity int              `json:"ordered_quantity"`
	GstPercentage   *decimal.Decimal `json:"gst_percentage,omitempty"`
}

type PurchaseOrder struct {
	ID string `json:"id"`
	// GstPercentage is the flat rate used when a GRN is edited.
	GstPercentage    *decimal.Decimal    `json:"gst_percentage,omitempty"`
	Items            []PurchaseOrderItem `json:"items"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	InvoiceAmount    *decimal.Decimal    `json:"invoice_amount,omitempty"`
	InvoiceConfirmed bool                `json:"invoice_confirmed"`
	UpdatedBy        string              `json:"updated_by,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Totals prices are tax inclusive: Σ(cost × ordered), no tax line.
func (po PurchaseOrder) Totals() (money.Totals, error) {
	lines := make([]money.Line, 0, len(po.Items))
	for _, it := range po.Items {
		lines = append(lines, money.Line{Quantity: it.OrderedQuantity, UnitPrice: it.CostPrice, GstPercentage: it.GstPercentage})
	}
	return money.Compute(lines, money.TaxInclusive)
}

func (po PurchaseOrder) Item(articleID string) (PurchaseOrderItem, bool) {
	for _, it := range po.Items {
		if it.ArticleID == articleID {
			return it, true
		}
	}
	return PurchaseOrderItem{}, false
}

type GRNItem struct {
	ID               string           `json:"id"`
	ArticleID        string           `json:"article_id"`
	OrderedQuantity  int              `json:"ordered_quantity"`
	ReceivedQuantity int              `json:"received_quantity"`
	RejectedQuantity int              `json:"rejected_quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	GstPercentage    *decimal.Decimal `json:"gst_percentage,omitempty"`
}

// SetReceived clamps q to the ordered quantity and then shrinks the
// rejected quantity so received + rejected never exceeds ordered.
func (it *GRNItem) SetReceived(q int) error {
	if q < 0 {
		return errs.Invalid(errs.ErrInvalidQuantity, "received quantity %d for %s", q, it.ArticleID)
	}
	it.ReceivedQuantity = min(q, it.OrderedQuantity)
	if it.ReceivedQuantity+it.RejectedQuantity > it.OrderedQuantity {
		it.RejectedQuantity = it.OrderedQuantity - it.ReceivedQuantity
	}
	return nil
}

// SetRejected clamps q to what is left after the received quantity.
func (it *GRNItem) SetRejected(q int) error {
	if q < 0 {
		return errs.Invalid(errs.ErrInvalidQuantity, "rejected quantity %d for %s", q, it.ArticleID)
	}
	it.RejectedQuantity = min(q, max(it.OrderedQuantity-it.ReceivedQuantity, 0))
	return nil
}

func (it GRNItem) Validate() error {
	switch {
	case it.OrderedQuantity < 0 || it.ReceivedQuantity < 0 || it.RejectedQuantity < 0:
		return errs.Invalid(errs.ErrInvalidQuantity, "negative quantity for %s", it.ArticleID)
	case it.ReceivedQuantity > it.OrderedQuantity:
		return errs.Invalid(errs.ErrInvalidQuantity, "received %d exceeds ordered %d for %s",
			it.ReceivedQuantity, it.OrderedQuantity, it.ArticleID)
	case it.ReceivedQuantity+it.RejectedQuantity > it.OrderedQuantity:
		return errs.Invalid(errs.ErrInvalidQuantity, "received %d + rejected %d exceeds ordered %d for %s",
			it.ReceivedQuantity, it.RejectedQuantity, it.OrderedQuantity, it.ArticleID)
	case it.UnitPrice.IsNegative():
		return errs.Invalid(errs.ErrInvalidPrice, "unit price %s for %s", it.UnitPrice, it.ArticleID)
	}
	return nil
}

type GRN struct {
	ID              string          `json:"id"`
	PurchaseOrderID string          `json:"purchase_order_id"`
	Items           []GRNItem       `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	InvoiceAmount   decimal.Decimal `json:"invoice_amount"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Lines prices the received quantities.
func (g GRN) Lines() []money.Line {
	lines := make([]money.Line, 0, len(g.Items))
	for _, it := range g.Items {
		lines = append(lines, money.Line{Quantity: it.ReceivedQuantity, UnitPrice: it.UnitPrice, GstPercentage: it.GstPercentage})
	}
	return lines
}

// Totals adds each line's own GST on top of the received value.
func (g GRN) Totals() (money.Totals, error) {
	return money.Compute(g.Lines(), money.TaxExclusivePerLine)
}

// FlatTotals applies the purchase order's single GST rate (default 18).
func (g GRN) FlatTotals(po PurchaseOrder) (money.Totals, error) {
	return money.Compute(g.Lines(), money.TaxExclusiveFlat, money.WithFlatGst(po.GstPercentage))
}
