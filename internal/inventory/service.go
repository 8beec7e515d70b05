// Package inventory keeps product stock in step with the order lines that
// currently hold it. Each operation runs as one unit of work on the order
// store and applies every deduction or restoration exactly once.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/config"
	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	kafkax "github.com/ariefcatur/fulfillment-ops/internal/kafka"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Publisher emits events after a successful commit. *kafka.Producer
// satisfies it.
type Publisher interface {
	Emit(topic string, key []byte, eventType string, envelope any)
}

// Locker serializes mutations of one order across processes.
// *redisx.Locker satisfies it.
type Locker interface {
	Lock(ctx context.Context, kind, id string) (func(), error)
}

type Service struct {
	Store       orders.Store
	Locker      Locker    // optional
	Publisher   Publisher // optional
	Log         logrus.FieldLogger
	ServiceName string
}

// Result describes what one operation did.
type Result struct {
	OrderID     string                   `json:"order_id"`
	ItemID      string                   `json:"item_id,omitempty"`
	From        orders.Status            `json:"from"`
	To          orders.Status            `json:"to"`
	Action      orders.StockAction       `json:"stock_action"`
	Changed     bool                     `json:"changed"`
	Adjustments []orders.StockAdjustment `json:"adjustments,omitempty"`
	Skipped     []orders.SkippedItem     `json:"skipped,omitempty"`
	OldTotal    *decimal.Decimal         `json:"old_total,omitempty"`
	NewTotal    *decimal.Decimal         `json:"new_total,omitempty"`
}

// StockLookupError reports items whose product could not be found. The
// rest of the operation was committed.
type StockLookupError struct {
	Skipped []orders.SkippedItem
}

func (e *StockLookupError) Error() string {
	ids := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		ids = append(ids, s.ProductID)
	}
	return fmt.Sprintf("%s: products %s", errs.ErrStockLookupFailed, strings.Join(ids, ", "))
}

func (e *StockLookupError) Unwrap() error { return errs.ErrStockLookupFailed }

// ApplyStatusTransition moves an order to newStatus and applies the stock
// action of the transition table to every item.
func (s *Service) ApplyStatusTransition(ctx context.Context, actor orders.Actor, orderID string, newStatus orders.Status) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	if !newStatus.Valid() {
		return Result{}, errs.Invalid(errs.ErrInvalidStatus, "%q", newStatus)
	}
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	res := Result{OrderID: orderID, To: newStatus, Action: orders.StockNone}
	err = s.Store.InTx(ctx, func(tx orders.Tx) error {
		res.Adjustments, res.Skipped = nil, nil

		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		res.From = o.Status
		if o.Status == newStatus {
			res.Changed = false
			return nil
		}

		res.Action = orders.StockActionFor(o.Status, newStatus)
		for _, it := range o.Items {
			var delta int
			switch res.Action {
			case orders.StockDeduct:
				delta = -it.Quantity
			case orders.StockRestore:
				delta = it.Quantity
			default:
				continue
			}
			if err := s.adjust(ctx, tx, it, delta, &res); err != nil {
				return err
			}
		}

		if err := tx.SetStatus(ctx, orderID, newStatus, actor); err != nil {
			return err
		}
		res.Changed = true
		return nil
	})
	if err != nil {
		return Result{}, s.fail("ApplyStatusTransition", orderID, actor, err)
	}
	if !res.Changed {
		s.Log.WithFields(logrus.Fields{"order_id": orderID, "status": newStatus}).Info("status unchanged, no changes made")
		return res, nil
	}

	s.emit(orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID:     orderID,
		From:        res.From,
		To:          res.To,
		StockAction: res.Action,
		Adjustments: res.Adjustments,
		Skipped:     res.Skipped,
		Actor:       actor,
	})
	s.emitStock(orderID, "STATUS_CHANGE", res.Adjustments, actor)
	return res, s.skipped("ApplyStatusTransition", orderID, actor, res.Skipped)
}

// ItemEdit is a change to a single order line. Nil fields are left as
// they are.
type ItemEdit struct {
	Quantity  *int
	UnitPrice *decimal.Decimal
}

// ApplyItemQuantityChange sets an item's quantity. On an order that holds
// stock, stock moves by old-new. The order total is recomputed with the
// existing discount kept.
func (s *Service) ApplyItemQuantityChange(ctx context.Context, actor orders.Actor, orderID, itemID string, newQty int) (Result, error) {
	return s.applyEdit(ctx, "ApplyItemQuantityChange", actor, orderID, itemID, ItemEdit{Quantity: &newQty})
}

// ApplyItemPriceChange sets an item's unit price and recomputes the total.
// Stock is not involved.
func (s *Service) ApplyItemPriceChange(ctx context.Context, actor orders.Actor, orderID, itemID string, price decimal.Decimal) (Result, error) {
	return s.applyEdit(ctx, "ApplyItemPriceChange", actor, orderID, itemID, ItemEdit{UnitPrice: &price})
}

// ApplyItemEdit applies a price and a quantity change to one item in a
// single unit of work. Either both land or neither does.
func (s *Service) ApplyItemEdit(ctx context.Context, actor orders.Actor, orderID, itemID string, edit ItemEdit) (Result, error) {
	return s.applyEdit(ctx, "ApplyItemEdit", actor, orderID, itemID, edit)
}

func (s *Service) applyEdit(ctx context.Context, op string, actor orders.Actor, orderID, itemID string, edit ItemEdit) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	if edit.Quantity == nil && edit.UnitPrice == nil {
		return Result{}, errs.Invalid(errs.ErrInvalidQuantity, "item edit changes nothing")
	}
	if edit.Quantity != nil && *edit.Quantity <= 0 {
		return Result{}, errs.Invalid(errs.ErrInvalidQuantity, "quantity must be a positive integer, got %d", *edit.Quantity)
	}
	if edit.UnitPrice != nil && edit.UnitPrice.IsNegative() {
		return Result{}, errs.Invalid(errs.ErrInvalidPrice, "unit price %s", *edit.UnitPrice)
	}
	return s.mutateItem(ctx, actor, orderID, itemID, op, reasonItemEdit, func(tx orders.Tx, o *orders.Order, idx int, res *Result) error {
		it := o.Items[idx]
		if p := edit.UnitPrice; p != nil && !it.UnitPrice.Equal(*p) {
			if err := tx.SetItemUnitPrice(ctx, itemID, *p); err != nil {
				return err
			}
			o.Items[idx].UnitPrice = *p
			res.Changed = true
		}
		if q := edit.Quantity; q != nil && it.Quantity != *q {
			if delta := orders.ItemStockDelta(o.Status, it.Quantity, *q); delta != 0 {
				if err := s.adjust(ctx, tx, it, delta, res); err != nil {
					return err
				}
			}
			if err := tx.SetItemQuantity(ctx, itemID, *q); err != nil {
				return err
			}
			o.Items[idx].Quantity = *q
			res.Changed = true
		}
		return nil
	})
}

// ApplyItemDeletion removes an item, restoring its full quantity when the
// order holds stock. Deleting an item that is already gone is ErrNotFound
// and restores nothing.
func (s *Service) ApplyItemDeletion(ctx context.Context, actor orders.Actor, orderID, itemID string) (Result, error) {
	if err := actor.Validate(); err != nil {
		return Result{}, err
	}
	return s.mutateItem(ctx, actor, orderID, itemID, "ApplyItemDeletion", reasonItemDelete, func(tx orders.Tx, o *orders.Order, idx int, res *Result) error {
		it := o.Items[idx]
		if delta := orders.ItemStockDelta(o.Status, it.Quantity, 0); delta != 0 {
			if err := s.adjust(ctx, tx, it, delta, res); err != nil {
				return err
			}
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		res.Changed = true
		return nil
	})
}

// Stock movement reasons for item mutations.
const (
	reasonItemEdit   = "ITEM_EDIT"
	reasonItemDelete = "ITEM_DELETE"
)

type itemMutation func(tx orders.Tx, o *orders.Order, idx int, res *Result) error

// mutateItem loads the order, applies fn to one of its items and, when fn
// changed something, rewrites the order total with the discount that was in
// force before the edit.
func (s *Service) mutateItem(ctx context.Context, actor orders.Actor, orderID, itemID, op, reason string, fn itemMutation) (Result, error) {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = s.Store.InTx(ctx, func(tx orders.Tx) error {
		res = Result{OrderID: orderID, ItemID: itemID, Action: orders.StockNone}

		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		res.From, res.To = o.Status, o.Status

		idx := -1
		for i := range o.Items {
			if o.Items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errs.Invalid(errs.ErrNotFound, "item %s in order %s", itemID, orderID)
		}

		discount := o.Discount()
		oldTotal := o.TotalAmount
		if err := fn(tx, &o, idx, &res); err != nil {
			return err
		}
		if !res.Changed {
			return nil
		}

		newTotal := orders.RecomputeTotal(o, discount)
		if err := tx.SetTotal(ctx, orderID, newTotal, actor); err != nil {
			return err
		}
		res.OldTotal, res.NewTotal = &oldTotal, &newTotal
		return nil
	})
	if err != nil {
		return Result{}, s.fail(op, orderID, actor, err)
	}
	if !res.Changed {
		return res, nil
	}

	s.emit(orders.TopicOrderTotalRecomputed, orders.EventOrderTotalRecomputed, orderID, orders.OrderTotalRecomputedPayload{
		OrderID:     orderID,
		ItemID:      itemID,
		OldTotal:    *res.OldTotal,
		NewTotal:    *res.NewTotal,
		ItemRemoved: reason == reasonItemDelete,
		Actor:       actor,
	})
	s.emitStock(orderID, reason, res.Adjustments, actor)
	return res, s.skipped(op, orderID, actor, res.Skipped)
}

// adjust moves one product's stock by delta, flooring at zero. A missing
// product is recorded as skipped and does not fail the unit of work.
func (s *Service) adjust(ctx context.Context, tx orders.Tx, it orders.OrderItem, delta int, res *Result) error {
	stock, err := tx.GetStockForUpdate(ctx, it.ProductID)
	if errors.Is(err, errs.ErrNotFound) {
		res.Skipped = append(res.Skipped, orders.SkippedItem{
			ProductID: it.ProductID,
			ItemID:    it.ID,
			Reason:    "PRODUCT_NOT_FOUND",
		})
		return nil
	}
	if err != nil {
		return errs.Persistence("read stock "+it.ProductID, err)
	}

	next := stock + delta
	if next < 0 {
		next = 0
	}
	if err := tx.SetStock(ctx, it.ProductID, next); err != nil {
		return err
	}
	res.Adjustments = append(res.Adjustments, orders.StockAdjustment{
		ProductID: it.ProductID,
		ItemID:    it.ID,
		Before:    stock,
		After:     next,
	})
	return nil
}

func (s *Service) lock(ctx context.Context, orderID string) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	return s.Locker.Lock(ctx, "order", orderID)
}

func (s *Service) fail(op, orderID string, actor orders.Actor, err error) error {
	if errors.Is(err, errs.ErrPersistenceFailed) {
		config.LogError(s.Log, "inventory", op, orderID, logrus.Fields{"actor": actor.UserID}, err)
		return err
	}
	s.Log.WithFields(logrus.Fields{
		"module":   "inventory",
		"funcName": op,
		"order_id": orderID,
		"actor":    actor.UserID,
	}).WithError(err).Info("reconciliation rejected")
	return err
}

func (s *Service) skipped(op, orderID string, actor orders.Actor, skipped []orders.SkippedItem) error {
	if len(skipped) == 0 {
		return nil
	}
	for _, sk := range skipped {
		s.Log.WithFields(logrus.Fields{
			"module":     "inventory",
			"funcName":   op,
			"order_id":   orderID,
			"item_id":    sk.ItemID,
			"product_id": sk.ProductID,
			"actor":      actor.UserID,
		}).Warn("stock lookup failed, item skipped")
	}
	return &StockLookupError{Skipped: skipped}
}

func (s *Service) emitStock(orderID, reason string, adj []orders.StockAdjustment, actor orders.Actor) {
	if len(adj) == 0 {
		return
	}
	s.emit(orders.TopicStockAdjusted, orders.EventStockAdjusted, orderID, orders.StockAdjustedPayload{
		OrderID:     orderID,
		Reason:      reason,
		Adjustments: adj,
		Actor:       actor,
	})
}

func (s *Service) emit(topic, eventType, orderID string, payload any) {
	if s.Publisher == nil {
		return
	}
	s.Publisher.Emit(topic, orders.PartitionKey(orderID), eventType, orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	})
}
