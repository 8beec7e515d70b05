package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/inventory"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/ariefcatur/fulfillment-ops/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type OrdersHandler struct {
	Inventory *inventory.Service
	Store     orders.Store
	Redis     *redis.Client // optional status cache
	Log       logrus.FieldLogger
}

type UpdateStatusReq struct {
	Status string `json:"status" validate:"required"`
}

type UpdateItemReq struct {
	Quantity  *int             `json:"quantity" validate:"required_without=UnitPrice"`
	UnitPrice *decimal.Decimal `json:"unit_price" validate:"required_without=Quantity"`
}

// ReconcileResp carries the committed result. Warning is set when some
// items were skipped because their product could not be found.
type ReconcileResp struct {
	Result  inventory.Result `json:"result"`
	Message string           `json:"message,omitempty"`
	Warning string           `json:"warning,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Get("/orders/{id}/invoice", h.getInvoice)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Patch("/orders/{id}/items/{itemID}", h.updateItem)
	r.Delete("/orders/{id}/items/{itemID}", h.deleteItem)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Redis != nil {
		if s, err := redisx.CachedStatus(ctx, h.Redis, orderID); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) store
	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	h.cacheStatus(ctx, orderID, o.Status)
	writeJSON(w, http.StatusOK, map[string]any{"status": o.Status, "updated_at": o.UpdatedAt})
}

func (h *OrdersHandler) getInvoice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	inv, err := h.Inventory.Invoice(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusReq
	if !decode(w, r, &req) {
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	res, err := h.Inventory.ApplyStatusTransition(ctx, actorFrom(r), orderID, status)
	if res.Changed {
		h.cacheStatus(ctx, orderID, res.To)
	}
	h.respond(w, r, res, err)
}

func (h *OrdersHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	edit := inventory.ItemEdit{Quantity: req.Quantity, UnitPrice: req.UnitPrice}
	res, err := h.Inventory.ApplyItemEdit(ctx, actorFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), edit)
	h.respond(w, r, res, err)
}

func (h *OrdersHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Inventory.ApplyItemDeletion(ctx, actorFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"))
	h.respond(w, r, res, err)
}

func (h *OrdersHandler) respond(w http.ResponseWriter, r *http.Request, res inventory.Result, err error) {
	var lookup *inventory.StockLookupError
	switch {
	case err == nil:
	case errors.As(err, &lookup):
		writeJSON(w, http.StatusOK, ReconcileResp{Result: res, Warning: err.Error()})
		return
	default:
		writeError(w, h.Log, r, err)
		return
	}
	resp := ReconcileResp{Result: res}
	if !res.Changed {
		resp.Message = "no changes made"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, status orders.Status) {
	if h.Redis == nil {
		return
	}
	if err := redisx.CacheStatus(ctx, h.Redis, orderID, string(status)); err != nil {
		h.Log.WithField("order_id", orderID).WithError(err).Warn("status cache write failed")
	}
}
