package procurement

import (
	"context"
	"errors"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store for purchase orders and GRNs.
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

func (r *Repo) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, r.DB, id, "")
}

func (r *Repo) GetGRN(ctx context.Context, id string) (GRN, error) {
	return loadGRN(ctx, r.DB, id, "")
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func loadPurchaseOrder(ctx context.Context, q queryer, id, lock string) (PurchaseOrder, error) {
	var po PurchaseOrder
	var gst, invoice decimal.NullDecimal
	err := q.QueryRow(ctx, `
		SELECT id, gst_percentage, total_amount, invoice_amount, invoice_confirmed,
		       COALESCE(updated_by, ''), created_at, updated_at
		FROM purchase_orders WHERE id = $1 `+lock, id).
		Scan(&po.ID, &gst, &po.TotalAmount, &invoice, &po.InvoiceConfirmed, &po.UpdatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, errs.Invalid(errs.ErrNotFound, "purchase order %s", id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.GstPercentage, po.InvoiceAmount = nullable(gst), nullable(invoice)

	rows, err := q.Query(ctx, `
		SELECT id, article_id, cost_price, ordered_quantity, gst_percentage
		FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it PurchaseOrderItem
		var itemGst decimal.NullDecimal
		if err := rows.Scan(&it.ID, &it.ArticleID, &it.CostPrice, &it.OrderedQuantity, &itemGst); err != nil {
			return PurchaseOrder{}, err
		}
		it.GstPercentage = nullable(itemGst)
		po.Items = append(po.Items, it)
	}
	return po, rows.Err()
}

func loadGRN(ctx context.Context, q queryer, id, lock string) (GRN, error) {
	var g GRN
	err := q.QueryRow(ctx, `
		SELECT id, purchase_order_id, subtotal, tax, grand_total, invoice_amount,
		       COALESCE(updated_by, ''), created_at, updated_at
		FROM grns WHERE id = $1 `+lock, id).
		Scan(&g.ID, &g.PurchaseOrderID, &g.Subtotal, &g.Tax, &g.GrandTotal, &g.InvoiceAmount, &g.UpdatedBy, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GRN{}, errs.Invalid(errs.ErrNotFound, "grn %s", id)
	}
	if err != nil {
		return GRN{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, article_id, ordered_quantity, received_quantity, rejected_quantity, unit_price, gst_percentage
		FROM grn_items WHERE grn_id = $1 ORDER BY id`, id)
	if err != nil {
		return GRN{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it GRNItem
		var gst decimal.NullDecimal
		if err := rows.Scan(&it.ID, &it.ArticleID, &it.OrderedQuantity, &it.ReceivedQuantity, &it.RejectedQuantity, &it.UnitPrice, &gst); err != nil {
			return GRN{}, err
		}
		it.GstPercentage = nullable(gst)
		g.Items = append(g.Items, it)
	}
	return g, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetPurchaseOrderForUpdate(ctx context.Context, id string) (PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) GetGRNForUpdate(ctx context.Context, id string) (GRN, error) {
	return loadGRN(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) ReceiptsByArticle(ctx context.Context, poID string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT gi.article_id, COALESCE(SUM(gi.received_quantity + gi.rejected_quantity), 0)
		FROM grn_items gi JOIN grns g ON g.id = gi.grn_id
		WHERE g.purchase_order_id = $1
		GROUP BY gi.article_id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var article string
		var n int
		if err := rows.Scan(&article, &n); err != nil {
			return nil, err
		}
		out[article] = n
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder, actor orders.Actor) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO purchase_orders(id, gst_percentage, total_amount, invoice_confirmed, updated_by)
		VALUES ($1, $2, $3, false, $4)`,
		po.ID, toNull(po.GstPercentage), po.TotalAmount, actor.Stamp()); err != nil {
		return errs.Persistence("insert purchase order", err)
	}
	for _, it := range po.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO purchase_order_items(id, purchase_order_id, article_id, cost_price, ordered_quantity, gst_percentage)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, po.ID, it.ArticleID, it.CostPrice, it.OrderedQuantity, toNull(it.GstPercentage)); err != nil {
			return errs.Persistence("insert purchase order item", err)
		}
	}
	return nil
}

func (t *pgTx) SetPurchaseOrderInvoice(ctx context.Context, poID string, amount decimal.Decimal, actor orders.Actor) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders
		SET invoice_amount = $2, invoice_confirmed = true, updated_by = $3, updated_at = now()
		WHERE id = $1`, poID, amount, actor.Stamp())
	if err != nil {
		return errs.Persistence("update purchase order invoice", err)
	}
	if ct.RowsAffected() != 1 {
		return errs.Invalid(errs.ErrNotFound, "purchase order %s", poID)
	}
	return nil
}

func (t *pgTx) InsertGRN(ctx context.Context, g GRN, actor orders.Actor) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO grns(id, purchase_order_id, subtotal, tax, grand_total, invoice_amount, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.PurchaseOrderID, g.Subtotal, g.Tax, g.GrandTotal, g.InvoiceAmount, actor.Stamp()); err != nil {
		return errs.Persistence("insert grn", err)
	}
	return t.insertGRNItems(ctx, g)
}

func (t *pgTx) ReplaceGRN(ctx context.Context, g GRN, actor orders.Actor) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE grns
		SET subtotal = $2, tax = $3, grand_total = $4, invoice_amount = $5, updated_by = $6, updated_at = now()
		WHERE id = $1`, g.ID, g.Subtotal, g.Tax, g.GrandTotal, g.InvoiceAmount, actor.Stamp())
	if err != nil {
		return errs.Persistence("update grn", err)
	}
	if ct.RowsAffected() != 1 {
		return errs.Invalid(errs.ErrNotFound, "grn %s", g.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM grn_items WHERE grn_id = $1`, g.ID); err != nil {
		return errs.Persistence("delete grn items", err)
	}
	return t.insertGRNItems(ctx, g)
}

func (t *pgTx) insertGRNItems(ctx context.Context, g GRN) error {
	for _, it := range g.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO grn_items(id, grn_id, article_id, ordered_quantity, received_quantity, rejected_quantity, unit_price, gst_percentage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ID, g.ID, it.ArticleID, it.OrderedQuantity, it.ReceivedQuantity, it.RejectedQuantity,
			it.UnitPrice, toNull(it.GstPercentage)); err != nil {
			return errs.Persistence("insert grn item", err)
		}
	}
	return nil
}
