package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventStockAdjusted          = "StockAdjusted"
	EventOrderTotalRecomputed   = "OrderTotalRecomputed"
	EventStatusChangeRequested  = "StatusChangeRequested"
	EventGRNRecorded            = "GRNRecorded"
	EventPurchaseInvoiceEntered = "PurchaseOrderInvoiceRecorded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "fulfillment-ops"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

// StockAdjustment is one applied stock movement.
type StockAdjustment struct {
	ProductID string `json:"product_id"`
	ItemID    string `json:"item_id"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
}

// Delta is the applied movement after flooring.
func (a StockAdjustment) Delta() int { return a.After - a.Before }

// SkippedItem is an item whose stock could not be adjusted.
type SkippedItem struct {
	ProductID string `json:"product_id"`
	ItemID    string `json:"item_id"`
	Reason    string `json:"reason"`
}

type OrderStatusChangedPayload struct {
	OrderID     string            `json:"order_id"`
	From        Status            `json:"from"`
	To          Status            `json:"to"`
	StockAction StockAction       `json:"stock_action"`
	Adjustments []StockAdjustment `json:"adjustments,omitempty"`
	Skipped     []SkippedItem     `json:"skipped,omitempty"`
	Actor       Actor             `json:"actor"`
}

type StockAdjustedPayload struct {
	OrderID     string            `json:"order_id"`
	Reason      string            `json:"reason"` // STATUS_CHANGE | ITEM_EDIT | ITEM_DELETE
	Adjustments []StockAdjustment `json:"adjustments"`
	Actor       Actor             `json:"actor"`
}

type OrderTotalRecomputedPayload struct {
	OrderID     string          `json:"order_id"`
	ItemID      string          `json:"item_id"`
	OldTotal    decimal.Decimal `json:"old_total"`
	NewTotal    decimal.Decimal `json:"new_total"`
	ItemRemoved bool            `json:"item_removed,omitempty"`
	Actor       Actor           `json:"actor"`
}

// StatusChangeRequestedPayload comes from courier and checkout systems.
type StatusChangeRequestedPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Actor   Actor  `json:"actor"`
}

type GRNRecordedPayload struct {
	GRNID           string          `json:"grn_id"`
	PurchaseOrderID string          `json:"purchase_order_id"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	InvoiceAmount   decimal.Decimal `json:"invoice_amount"`
	Actor           Actor           `json:"actor"`
}

type PurchaseInvoiceRecordedPayload struct {
	PurchaseOrderID string          `json:"purchase_order_id"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	InvoiceAmount   decimal.Decimal `json:"invoice_amount"`
	Actor           Actor           `json:"actor"`
}
