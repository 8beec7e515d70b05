package orders

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tx is one unit of work over an order and the stock of its products.
// Reads lock the row they return until the unit of work ends.
type Tx interface {
	GetOrderForUpdate(ctx context.Context, orderID string) (Order, error)
	GetStockForUpdate(ctx context.Context, productID string) (int, error)
	SetStock(ctx context.Context, productID string, stock int) error
	SetStatus(ctx context.Context, orderID string, status Status, actor Actor) error
	SetItemQuantity(ctx context.Context, itemID string, qty int) error
	SetItemUnitPrice(ctx context.Context, itemID string, price decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID string) error
	SetTotal(ctx context.Context, orderID string, total decimal.Decimal, actor Actor) error
}

// Store runs units of work. If fn returns an error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
}
