package procurement

import (
	"context"

	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/shopspring/decimal"
)

type Tx interface {
	GetPurchaseOrderForUpdate(ctx context.Context, id string) (PurchaseOrder, error)
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder, actor orders.Actor) error
	SetPurchaseOrderInvoice(ctx context.Context, poID string, amount decimal.Decimal, actor orders.Actor) error
	GetGRNForUpdate(ctx context.Context, id string) (GRN, error)
	// ReceiptsByArticle sums received + rejected per article over every GRN
	// of the purchase order.
	ReceiptsByArticle(ctx context.Context, poID string) (map[string]int, error)
	InsertGRN(ctx context.Context, g GRN, actor orders.Actor) error
	// ReplaceGRN overwrites header totals and all items.
	ReplaceGRN(ctx context.Context, g GRN, actor orders.Actor) error
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	GetGRN(ctx context.Context, id string) (GRN, error)
}
