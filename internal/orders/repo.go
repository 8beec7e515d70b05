package orders

import (
	"context"
	"errors"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store. Every unit of work is one transaction with
// row locks on the order and each product it touches.
type Repo struct{ DB *pgxpool.Pool }

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errs.Persistence("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.Persistence("commit", err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return loadOrder(ctx, r.DB, orderID, "")
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, sku, name, stock, updated_at FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadOrder(ctx context.Context, q queryer, orderID, lock string) (Order, error) {
	var o Order
	var status string
	err := q.QueryRow(ctx, `
		SELECT id, status, total_amount, COALESCE(updated_by, ''), created_at, updated_at
		FROM orders WHERE id = $1 `+lock, orderID).
		Scan(&o.ID, &status, &o.TotalAmount, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, errs.Invalid(errs.ErrNotFound, "order %s", orderID)
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	return loadOrder(ctx, t.tx, orderID, "FOR UPDATE")
}

func (t *pgTx) GetStockForUpdate(ctx context.Context, productID string) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.Invalid(errs.ErrNotFound, "product %s", productID)
	}
	return stock, err
}

func (t *pgTx) SetStock(ctx context.Context, productID string, stock int) error {
	return t.exec(ctx, "product "+productID,
		`UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, productID, stock)
}

func (t *pgTx) SetStatus(ctx context.Context, orderID string, status Status, actor Actor) error {
	return t.exec(ctx, "order "+orderID,
		`UPDATE orders SET status = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		orderID, string(status), actor.Stamp())
}

func (t *pgTx) SetItemQuantity(ctx context.Context, itemID string, qty int) error {
	return t.exec(ctx, "order item "+itemID,
		`UPDATE order_items SET quantity = $2 WHERE id = $1`, itemID, qty)
}

func (t *pgTx) SetItemUnitPrice(ctx context.Context, itemID string, price decimal.Decimal) error {
	return t.exec(ctx, "order item "+itemID,
		`UPDATE order_items SET unit_price = $2 WHERE id = $1`, itemID, price)
}

func (t *pgTx) DeleteItem(ctx context.Context, itemID string) error {
	return t.exec(ctx, "order item "+itemID, `DELETE FROM order_items WHERE id = $1`, itemID)
}

func (t *pgTx) SetTotal(ctx context.Context, orderID string, total decimal.Decimal, actor Actor) error {
	return t.exec(ctx, "order "+orderID,
		`UPDATE orders SET total_amount = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		orderID, total, actor.Stamp())
}

func (t *pgTx) exec(ctx context.Context, what, sql string, args ...any) error {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return errs.Persistence("update "+what, err)
	}
	if ct.RowsAffected() != 1 {
		return errs.Invalid(errs.ErrNotFound, "%s", what)
	}
	return nil
}
