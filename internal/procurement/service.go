package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/config"
	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	kafkax "github.com/ariefcatur/fulfillment-ops/internal/kafka"
	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	Emit(topic string, key []byte, eventType string, envelope any)
}

type Service struct {
	Store       Store
	Publisher   Publisher // optional
	Log         logrus.FieldLogger
	ServiceName string
	// Tolerance for invoice amounts; zero means money.DefaultTolerance.
	Tolerance decimal.Decimal
	// DefaultGst replaces money.DefaultFlatGst for purchase orders without
	// a rate when positive.
	DefaultGst decimal.Decimal
}

type PurchaseOrderInput struct {
	GstPercentage *decimal.Decimal
	Items         []PurchaseOrderItem
}

// GRNLine is one received article. UnitPrice and GstPercentage default to
// the purchase order item when nil.
type GRNLine struct {
	ArticleID        string
	ReceivedQuantity int
	RejectedQuantity int
	UnitPrice        *decimal.Decimal
	GstPercentage    *decimal.Decimal
}

type GRNInput struct {
	PurchaseOrderID string
	Items           []GRNLine
	InvoiceAmount   string
}

type GRNUpdate struct {
	Items         []GRNLine
	InvoiceAmount string
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, actor orders.Actor, in PurchaseOrderInput) (PurchaseOrder, error) {
	if err := actor.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	if len(in.Items) == 0 {
		return PurchaseOrder{}, errs.Invalid(errs.ErrInvalidQuantity, "purchase order has no items")
	}
	po := PurchaseOrder{ID: uuid.NewString(), GstPercentage: in.GstPercentage}
	for _, it := range in.Items {
		if it.OrderedQuantity <= 0 {
			return PurchaseOrder{}, errs.Invalid(errs.ErrInvalidQuantity, "ordered quantity %d for %s", it.OrderedQuantity, it.ArticleID)
		}
		if it.CostPrice.IsNegative() {
			return PurchaseOrder{}, errs.Invalid(errs.ErrInvalidPrice, "cost price %s for %s", it.CostPrice, it.ArticleID)
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		po.Items = append(po.Items, it)
	}
	totals, err := po.Totals()
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.TotalAmount = totals.GrandTotal

	err = s.Store.InTx(ctx, func(tx Tx) error {
		return tx.InsertPurchaseOrder(ctx, po, actor)
	})
	if err != nil {
		return PurchaseOrder{}, s.fail("CreatePurchaseOrder", po.ID, actor, err)
	}
	return s.Store.GetPurchaseOrder(ctx, po.ID)
}

// RecordPurchaseOrderInvoice confirms the vendor invoice of a purchase
// order. The amount must match the inclusive item total; afterwards the
// purchase order and its GRNs can no longer be edited.
func (s *Service) RecordPurchaseOrderInvoice(ctx context.Context, actor orders.Actor, poID, invoiceAmount string) (PurchaseOrder, money.Match, error) {
	if err := actor.Validate(); err != nil {
		return PurchaseOrder{}, money.Match{}, err
	}
	var (
		po    PurchaseOrder
		match money.Match
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.InvoiceConfirmed {
			return errs.Invalid(errs.ErrDocumentLocked, "purchase order %s", poID)
		}
		totals, err := po.Totals()
		if err != nil {
			return err
		}
		match = money.ValidateAgainstExternalAmount(totals.Rounded().GrandTotal, invoiceAmount, s.Tolerance)
		if err := money.RequireMatch(match); err != nil {
			return err
		}
		return tx.SetPurchaseOrderInvoice(ctx, poID, *match.Supplied, actor)
	})
	if err != nil {
		return PurchaseOrder{}, match, s.fail("RecordPurchaseOrderInvoice", poID, actor, err)
	}

	po, err = s.Store.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, match, err
	}
	s.emit(orders.TopicPurchaseInvoiceEntered, orders.EventPurchaseInvoiceEntered, poID, orders.PurchaseInvoiceRecordedPayload{
		PurchaseOrderID: poID,
		GrandTotal:      match.Computed,
		InvoiceAmount:   *match.Supplied,
		Actor:           actor,
	})
	return po, match, nil
}

// CreateGRN records goods received against a purchase order. Totals use each
// line's own GST; nothing is stored unless the invoice amount matches.
func (s *Service) CreateGRN(ctx context.Context, actor orders.Actor, in GRNInput) (GRN, money.Match, error) {
	if err := actor.Validate(); err != nil {
		return GRN{}, money.Match{}, err
	}
	if len(in.Items) == 0 {
		return GRN{}, money.Match{}, errs.Invalid(errs.ErrInvalidQuantity, "grn has no items")
	}
	if err := validateLines(in.Items); err != nil {
		return GRN{}, money.Match{}, err
	}

	g := GRN{ID: uuid.NewString(), PurchaseOrderID: in.PurchaseOrderID}
	var match money.Match
	err := s.Store.InTx(ctx, func(tx Tx) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, in.PurchaseOrderID)
		if err != nil {
			return err
		}
		taken, err := tx.ReceiptsByArticle(ctx, po.ID)
		if err != nil {
			return err
		}
		g.Items = g.Items[:0]
		for _, line := range in.Items {
			poItem, ok := po.Item(line.ArticleID)
			if !ok {
				return errs.Invalid(errs.ErrNotFound, "article %s is not on purchase order %s", line.ArticleID, po.ID)
			}
			// earlier GRNs already account for part of the order
			it := GRNItem{
				ID:              uuid.NewString(),
				ArticleID:       line.ArticleID,
				OrderedQuantity: max(poItem.OrderedQuantity-taken[line.ArticleID], 0),
				UnitPrice:       poItem.CostPrice,
				GstPercentage:   poItem.GstPercentage,
			}
			if err := applyLine(&it, line); err != nil {
				return err
			}
			g.Items = append(g.Items, it)
		}

		totals, err := g.Totals()
		if err != nil {
			return err
		}
		match, err = s.gate(&g, totals, in.InvoiceAmount)
		if err != nil {
			return err
		}
		return tx.InsertGRN(ctx, g, actor)
	})
	if err != nil {
		return GRN{}, match, s.fail("CreateGRN", g.ID, actor, err)
	}
	return s.recorded(ctx, g.ID, match, actor)
}

// UpdateGRN edits received/rejected quantities and prices of an existing
// GRN. Totals use the purchase order's flat GST rate.
func (s *Service) UpdateGRN(ctx context.Context, actor orders.Actor, grnID string, in GRNUpdate) (GRN, money.Match, error) {
	if err := actor.Validate(); err != nil {
		return GRN{}, money.Match{}, err
	}
	if err := validateLines(in.Items); err != nil {
		return GRN{}, money.Match{}, err
	}

	var match money.Match
	err := s.Store.InTx(ctx, func(tx Tx) error {
		g, err := tx.GetGRNForUpdate(ctx, grnID)
		if err != nil {
			return err
		}
		po, err := tx.GetPurchaseOrderForUpdate(ctx, g.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po.InvoiceConfirmed {
			return errs.Invalid(errs.ErrDocumentLocked, "grn %s: purchase order %s invoice confirmed", grnID, po.ID)
		}

		for _, line := range in.Items {
			idx := -1
			for i := range g.Items {
				if g.Items[i].ArticleID == line.ArticleID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return errs.Invalid(errs.ErrNotFound, "article %s in grn %s", line.ArticleID, grnID)
			}
			if err := applyLine(&g.Items[idx], line); err != nil {
				return err
			}
		}

		if po.GstPercentage == nil && s.DefaultGst.IsPositive() {
			gst := s.DefaultGst
			po.GstPercentage = &gst
		}
		totals, err := g.FlatTotals(po)
		if err != nil {
			return err
		}
		match, err = s.gate(&g, totals, in.InvoiceAmount)
		if err != nil {
			return err
		}
		return tx.ReplaceGRN(ctx, g, actor)
	})
	if err != nil {
		return GRN{}, match, s.fail("UpdateGRN", grnID, actor, err)
	}
	return s.recorded(ctx, grnID, match, actor)
}

func validateLines(lines []GRNLine) error {
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if seen[l.ArticleID] {
			return errs.Invalid(errs.ErrInvalidQuantity, "article %s appears more than once", l.ArticleID)
		}
		seen[l.ArticleID] = true
		if l.ReceivedQuantity < 0 || l.RejectedQuantity < 0 {
			return errs.Invalid(errs.ErrInvalidQuantity, "negative quantity for %s", l.ArticleID)
		}
		if l.UnitPrice != nil && l.UnitPrice.IsNegative() {
			return errs.Invalid(errs.ErrInvalidPrice, "unit price %s for %s", l.UnitPrice, l.ArticleID)
		}
	}
	return nil
}

// applyLine sets received before rejected so the caps see the new received
// quantity.
func applyLine(it *GRNItem, l GRNLine) error {
	if l.UnitPrice != nil {
		it.UnitPrice = *l.UnitPrice
	}
	if l.GstPercentage != nil {
		it.GstPercentage = l.GstPercentage
	}
	if err := it.SetReceived(l.ReceivedQuantity); err != nil {
		return err
	}
	if err := it.SetRejected(l.RejectedQuantity); err != nil {
		return err
	}
	return it.Validate()
}

// gate stores the totals on g and checks the supplied invoice amount
// against the rounded grand total.
func (s *Service) gate(g *GRN, totals money.Totals, invoiceAmount string) (money.Match, error) {
	g.Subtotal, g.Tax, g.GrandTotal = totals.Subtotal, totals.Tax, totals.GrandTotal
	m := money.ValidateAgainstExternalAmount(totals.Rounded().GrandTotal, invoiceAmount, s.Tolerance)
	if err := money.RequireMatch(m); err != nil {
		return m, err
	}
	g.InvoiceAmount = *m.Supplied
	return m, nil
}

func (s *Service) recorded(ctx context.Context, grnID string, match money.Match, actor orders.Actor) (GRN, money.Match, error) {
	g, err := s.Store.GetGRN(ctx, grnID)
	if err != nil {
		return GRN{}, match, err
	}
	s.emit(orders.TopicGRNRecorded, orders.EventGRNRecorded, g.PurchaseOrderID, orders.GRNRecordedPayload{
		GRNID:           g.ID,
		PurchaseOrderID: g.PurchaseOrderID,
		GrandTotal:      g.GrandTotal,
		InvoiceAmount:   g.InvoiceAmount,
		Actor:           actor,
	})
	return g, match, nil
}

func (s *Service) fail(op, id string, actor orders.Actor, err error) error {
	if errors.Is(err, errs.ErrPersistenceFailed) {
		config.LogError(s.Log, "procurement", op, id, logrus.Fields{"actor": actor.UserID}, err)
		return err
	}
	entry := s.Log.WithFields(logrus.Fields{
		"module":   "procurement",
		"funcName": op,
		"document": id,
		"actor":    actor.UserID,
	}).WithError(err)
	var mismatch *money.MismatchError
	switch {
	case errors.As(err, &mismatch):
		entry.WithField("discrepancy", mismatch.Match.Discrepancy.StringFixed(2)).Warn("invoice amount mismatch")
	default:
		entry.Info("procurement request rejected")
	}
	return err
}

func (s *Service) emit(topic, eventType, key string, payload any) {
	if s.Publisher == nil {
		return
	}
	s.Publisher.Emit(topic, orders.PartitionKey(key), eventType, orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: key,
		Payload:       kafkax.MustMarshal(payload),
	})
}
