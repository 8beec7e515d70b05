package orders

import "github.com/ariefcatur/fulfillment-ops/internal/errs"

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusReminder       Status = "reminder"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusReminder,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// StockAction is what a status change does to the stock of every item.
type StockAction string

const (
	StockNone    StockAction = "none"
	StockDeduct  StockAction = "deduct"
	StockRestore StockAction = "restore"
)

var committed = map[Status]bool{
	StatusConfirmed:      true,
	StatusReminder:       true,
	StatusOutForDelivery: true,
	StatusDelivered:      true,
}

// leaving confirmed for one of these keeps the stock deducted.
var keepsConfirmedStock = map[Status]bool{
	StatusOutForDelivery: true,
	StatusDelivered:      true,
	StatusReminder:       true,
	StatusCancelled:      true,
}

var transitions = buildTransitions()

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", errs.Invalid(errs.ErrInvalidStatus, "%q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsStockCommitted reports whether inventory is held against an order in
// this status.
func IsStockCommitted(s Status) bool { return committed[s] }

// HoldsStockForEdits is the rule item edits and deletions use: anything but
// pending and cancelled.
func HoldsStockForEdits(s Status) bool {
	return s != StatusPending && s != StatusCancelled
}

// StockActionFor looks up the transition table.
func StockActionFor(from, to Status) StockAction {
	if a, ok := transitions[from][to]; ok {
		return a
	}
	return StockNone
}

func buildTransitions() map[Status]map[Status]StockAction {
	t := make(map[Status]map[Status]StockAction, len(AllStatuses))
	for _, from := range AllStatuses {
		t[from] = make(map[Status]StockAction, len(AllStatuses))
		for _, to := range AllStatuses {
			t[from][to] = stockRule(from, to)
		}
	}
	return t
}

func stockRule(from, to Status) StockAction {
	switch {
	case from == to:
		return StockNone
	case !IsStockCommitted(from) && IsStockCommitted(to):
		return StockDeduct
	case from == StatusConfirmed && !keepsConfirmedStock[to]:
		return StockRestore
	case to == StatusCancelled && from != StatusPending:
		return StockRestore
	}
	return StockNone
}

// ItemStockDelta is the stock movement for an item quantity edit. Positive
// restores stock, negative deducts it.
func ItemStockDelta(s Status, oldQty, newQty int) int {
	if !HoldsStockForEdits(s) {
		return 0
	}
	return oldQty - newQty
}
