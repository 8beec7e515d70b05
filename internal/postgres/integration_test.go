package postgres_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/inventory"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/ariefcatur/fulfillment-ops/internal/postgres"
	"github.com/ariefcatur/fulfillment-ops/internal/procurement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var actor = orders.Actor{UserID: "it-user", FullName: "Integration"}

func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 and POSTGRES_DSN to run integration tests")
	}
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Connect(ctx, dsn, postgres.Options{Attempts: 3})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestStatusTransitionOnPostgres(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	productID, orderID, itemID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	mustExec(t, db, `INSERT INTO products(id, sku, name, stock) VALUES ($1, $2, 'Rice 5kg', 10)`, productID, "sku-"+productID)
	mustExec(t, db, `INSERT INTO orders(id, status, total_amount) VALUES ($1, 'pending', 90)`, orderID)
	mustExec(t, db, `INSERT INTO order_items(id, order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, 2, 50)`, itemID, orderID, productID)

	log, _ := logtest.NewNullLogger()
	svc := &inventory.Service{Store: &orders.Repo{DB: db}, Log: log}

	if _, err := svc.ApplyStatusTransition(ctx, actor, orderID, orders.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := stock(t, db, productID); got != 8 {
		t.Fatalf("stock after confirm = %d, want 8", got)
	}

	res, err := svc.ApplyItemQuantityChange(ctx, actor, orderID, itemID, 3)
	if err != nil {
		t.Fatalf("quantity change: %v", err)
	}
	if got := stock(t, db, productID); got != 7 {
		t.Fatalf("stock after edit = %d, want 7", got)
	}
	if !res.NewTotal.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("new total = %s, want 140 (discount 10 kept)", res.NewTotal)
	}

	if _, err := svc.ApplyStatusTransition(ctx, actor, orderID, orders.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := stock(t, db, productID); got != 10 {
		t.Fatalf("stock after cancel = %d, want 10", got)
	}

	o, err := (&orders.Repo{DB: db}).GetOrder(ctx, orderID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != orders.StatusCancelled || o.UpdatedBy != actor.Stamp() {
		t.Fatalf("order = %+v", o)
	}
}

func TestGRNOnPostgres(t *testing.T) {
	db := connect(t)
	ctx := context.Background()

	log, _ := logtest.NewNullLogger()
	svc := &procurement.Service{Store: &procurement.Repo{DB: db}, Log: log}

	gst := decimal.NewFromInt(18)
	po, err := svc.CreatePurchaseOrder(ctx, actor, procurement.PurchaseOrderInput{
		Items: []procurement.PurchaseOrderItem{
			{ArticleID: "rice-5kg", CostPrice: decimal.RequireFromString("299.99"), OrderedQuantity: 10, GstPercentage: &gst},
		},
	})
	if err != nil {
		t.Fatalf("create po: %v", err)
	}

	g, _, err := svc.CreateGRN(ctx, actor, procurement.GRNInput{
		PurchaseOrderID: po.ID,
		Items:           []procurement.GRNLine{{ArticleID: "rice-5kg", ReceivedQuantity: 8, RejectedQuantity: 5}},
		InvoiceAmount:   "2831.91",
	})
	if err != nil {
		t.Fatalf("create grn: %v", err)
	}
	if g.Items[0].RejectedQuantity != 2 {
		t.Fatalf("rejected = %d", g.Items[0].RejectedQuantity)
	}

	if _, _, err := svc.RecordPurchaseOrderInvoice(ctx, actor, po.ID, "2999.90"); err != nil {
		t.Fatalf("invoice: %v", err)
	}
}

func mustExec(t *testing.T, db *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	if _, err := db.Exec(context.Background(), sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}

func stock(t *testing.T, db *pgxpool.Pool, productID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(context.Background(), `SELECT stock FROM products WHERE id = $1`, productID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}
