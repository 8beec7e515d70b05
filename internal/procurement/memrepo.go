package procurement

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/shopspring/decimal"
)

// MemRepo is the in-process Store. Units of work are serialized and undone
// on error.
type MemRepo struct {
	mu     sync.RWMutex
	pos    map[string]PurchaseOrder
	grns   map[string]GRN
	nowFn  func() time.Time
	writes int

	// FailWrite, when set, is consulted before every write and a non-nil
	// result fails it as a persistence error.
	FailWrite func(op, id string) error
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		pos:   make(map[string]PurchaseOrder),
		grns:  make(map[string]GRN),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemRepo) PutPurchaseOrder(po PurchaseOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[po.ID] = clonePO(po)
}

// Writes counts committed write calls.
func (m *MemRepo) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemRepo) GetPurchaseOrder(_ context.Context, id string) (PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	po, ok := m.pos[id]
	if !ok {
		return PurchaseOrder{}, errs.Invalid(errs.ErrNotFound, "purchase order %s", id)
	}
	return clonePO(po), nil
}

func (m *MemRepo) GetGRN(_ context.Context, id string) (GRN, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grns[id]
	if !ok {
		return GRN{}, errs.Invalid(errs.ErrNotFound, "grn %s", id)
	}
	return cloneGRN(g), nil
}

func (m *MemRepo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := make(map[string]PurchaseOrder, len(m.pos))
	for k, v := range m.pos {
		pos[k] = clonePO(v)
	}
	grns := make(map[string]GRN, len(m.grns))
	for k, v := range m.grns {
		grns[k] = cloneGRN(v)
	}
	writes := m.writes

	if err := fn(&memTx{m: m}); err != nil {
		m.pos, m.grns, m.writes = pos, grns, writes
		return err
	}
	return nil
}

func clonePO(po PurchaseOrder) PurchaseOrder {
	po.Items = append([]PurchaseOrderItem(nil), po.Items...)
	return po
}

func cloneGRN(g GRN) GRN {
	g.Items = append([]GRNItem(nil), g.Items...)
	return g
}

type memTx struct{ m *MemRepo }

func (t *memTx) write(op, id string) error {
	if t.m.FailWrite == nil {
		return nil
	}
	if err := t.m.FailWrite(op, id); err != nil {
		return errs.Persistence(op+" "+id, err)
	}
	return nil
}

func (t *memTx) GetPurchaseOrderForUpdate(_ context.Context, id string) (PurchaseOrder, error) {
	po, ok := t.m.pos[id]
	if !ok {
		return PurchaseOrder{}, errs.Invalid(errs.ErrNotFound, "purchase order %s", id)
	}
	return clonePO(po), nil
}

func (t *memTx) GetGRNForUpdate(_ context.Context, id string) (GRN, error) {
	g, ok := t.m.grns[id]
	if !ok {
		return GRN{}, errs.Invalid(errs.ErrNotFound, "grn %s", id)
	}
	return cloneGRN(g), nil
}

func (t *memTx) ReceiptsByArticle(_ context.Context, poID string) (map[string]int, error) {
	out := make(map[string]int)
	for _, g := range t.m.grns {
		if g.PurchaseOrderID != poID {
			continue
		}
		for _, it := range g.Items {
			out[it.ArticleID] += it.ReceivedQuantity + it.RejectedQuantity
		}
	}
	return out, nil
}

func (t *memTx) InsertPurchaseOrder(_ context.Context, po PurchaseOrder, actor orders.Actor) error {
	if err := t.write("insert_purchase_order", po.ID); err != nil {
		return err
	}
	now := t.m.nowFn()
	po.UpdatedBy, po.CreatedAt, po.UpdatedAt = actor.Stamp(), now, now
	t.m.pos[po.ID] = clonePO(po)
	t.m.writes++
	return nil
}

func (t *memTx) SetPurchaseOrderInvoice(_ context.Context, poID string, amount decimal.Decimal, actor orders.Actor) error {
	if err := t.write("set_invoice", poID); err != nil {
		return err
	}
	po, ok := t.m.pos[poID]
	if !ok {
		return errs.Invalid(errs.ErrNotFound, "purchase order %s", poID)
	}
	po.InvoiceAmount = &amount
	po.InvoiceConfirmed = true
	po.UpdatedBy, po.UpdatedAt = actor.Stamp(), t.m.nowFn()
	t.m.pos[poID] = po
	t.m.writes++
	return nil
}

func (t *memTx) InsertGRN(_ context.Context, g GRN, actor orders.Actor) error {
	if err := t.write("insert_grn", g.ID); err != nil {
		return err
	}
	now := t.m.nowFn()
	g.UpdatedBy, g.CreatedAt, g.UpdatedAt = actor.Stamp(), now, now
	t.m.grns[g.ID] = cloneGRN(g)
	t.m.writes++
	return nil
}

func (t *memTx) ReplaceGRN(_ context.Context, g GRN, actor orders.Actor) error {
	if err := t.write("replace_grn", g.ID); err != nil {
		return err
	}
	old, ok := t.m.grns[g.ID]
	if !ok {
		return errs.Invalid(errs.ErrNotFound, "grn %s", g.ID)
	}
	g.CreatedAt = old.CreatedAt
	g.UpdatedBy, g.UpdatedAt = actor.Stamp(), t.m.nowFn()
	t.m.grns[g.ID] = cloneGRN(g)
	t.m.writes++
	return nil
}
