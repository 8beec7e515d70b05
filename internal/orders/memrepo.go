package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/shopspring/decimal"
)

// MemRepo is an in-process Store used for local runs and tests. A unit of
// work holds the write lock for its whole duration and is undone on error.
type MemRepo struct {
	mu       sync.RWMutex
	products map[string]Product
	orders   map[string]Order

	// FailWrite, when set, is consulted before every write. A non-nil
	// return aborts the write as a store failure.
	FailWrite func(op, id string) error
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
	}
}

func (m *MemRepo) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *MemRepo) PutOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

// Stock returns the on-hand quantity of a product.
func (m *MemRepo) Stock(productID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	return p.Stock, ok
}

func (m *MemRepo) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, errs.Invalid(errs.ErrNotFound, "order %s", orderID)
	}
	return cloneOrder(o), nil
}

func (m *MemRepo) ListProducts(_ context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (m *MemRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make(map[string]Product, len(m.products))
	for k, v := range m.products {
		products[k] = v
	}
	orders := make(map[string]Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = cloneOrder(v)
	}

	if err := fn(&memTx{m: m}); err != nil {
		m.products = products
		m.orders = orders
		return err
	}
	return nil
}

func cloneOrder(o Order) Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

type memTx struct{ m *MemRepo }

func (t *memTx) write(op, id string) error {
	if t.m.FailWrite == nil {
		return nil
	}
	return errs.Persistence(op+" "+id, t.m.FailWrite(op, id))
}

func (t *memTx) GetOrderForUpdate(_ context.Context, orderID string) (Order, error) {
	o, ok := t.m.orders[orderID]
	if !ok {
		return Order{}, errs.Invalid(errs.ErrNotFound, "order %s", orderID)
	}
	return cloneOrder(o), nil
}

func (t *memTx) GetStockForUpdate(_ context.Context, productID string) (int, error) {
	p, ok := t.m.products[productID]
	if !ok {
		return 0, errs.Invalid(errs.ErrNotFound, "product %s", productID)
	}
	return p.Stock, nil
}

func (t *memTx) SetStock(_ context.Context, productID string, stock int) error {
	if err := t.write("set_stock", productID); err != nil {
		return err
	}
	p, ok := t.m.products[productID]
	if !ok {
		return errs.Invalid(errs.ErrNotFound, "product %s", productID)
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	t.m.products[productID] = p
	return nil
}

func (t *memTx) SetStatus(_ context.Context, orderID string, status Status, actor Actor) error {
	return t.updateOrder("set_status", orderID, func(o *Order) {
		o.Status = status
		o.UpdatedBy = actor.Stamp()
	})
}

func (t *memTx) SetTotal(_ context.Context, orderID string, total decimal.Decimal, actor Actor) error {
	return t.updateOrder("set_total", orderID, func(o *Order) {
		o.TotalAmount = total
		o.UpdatedBy = actor.Stamp()
	})
}

func (t *memTx) SetItemQuantity(_ context.Context, itemID string, qty int) error {
	return t.updateItem("set_item_quantity", itemID, func(o *Order, i int) {
		o.Items[i].Quantity = qty
	})
}

func (t *memTx) SetItemUnitPrice(_ context.Context, itemID string, price decimal.Decimal) error {
	return t.updateItem("set_item_price", itemID, func(o *Order, i int) {
		o.Items[i].UnitPrice = price
	})
}

func (t *memTx) DeleteItem(_ context.Context, itemID string) error {
	return t.updateItem("delete_item", itemID, func(o *Order, i int) {
		o.Items = append(o.Items[:i], o.Items[i+1:]...)
	})
}

func (t *memTx) updateOrder(op, orderID string, fn func(o *Order)) error {
	if err := t.write(op, orderID); err != nil {
		return err
	}
	o, ok := t.m.orders[orderID]
	if !ok {
		return errs.Invalid(errs.ErrNotFound, "order %s", orderID)
	}
	fn(&o)
	o.UpdatedAt = time.Now().UTC()
	t.m.orders[orderID] = o
	return nil
}

func (t *memTx) updateItem(op, itemID string, fn func(o *Order, i int)) error {
	if err := t.write(op, itemID); err != nil {
		return err
	}
	for id, o := range t.m.orders {
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				fn(&o, i)
				o.UpdatedAt = time.Now().UTC()
				t.m.orders[id] = o
				return nil
			}
		}
	}
	return errs.Invalid(errs.ErrNotFound, "order item %s", itemID)
}
