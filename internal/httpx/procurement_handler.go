package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/ariefcatur/fulfillment-ops/internal/procurement"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ProcurementHandler struct {
	Service *procurement.Service
	Log     logrus.FieldLogger
}

type CreatePurchaseOrderReq struct {
	GstPercentage *decimal.Decimal       `json:"gst_percentage"`
	Items         []PurchaseOrderItemReq `json:"items" validate:"required,min=1,dive"`
}

type PurchaseOrderItemReq struct {
	ArticleID       string           `json:"article_id" validate:"required"`
	CostPrice       decimal.Decimal  `json:"cost_price"`
	OrderedQuantity int              `json:"ordered_quantity" validate:"gt=0"`
	GstPercentage   *decimal.Decimal `json:"gst_percentage"`
}

type InvoiceReq struct {
	InvoiceAmount amount `json:"invoice_amount"`
}

type GRNLineReq struct {
	ArticleID        string           `json:"article_id" validate:"required"`
	ReceivedQuantity int              `json:"received_quantity"`
	RejectedQuantity int              `json:"rejected_quantity"`
	UnitPrice        *decimal.Decimal `json:"unit_price"`
	GstPercentage    *decimal.Decimal `json:"gst_percentage"`
}

type CreateGRNReq struct {
	PurchaseOrderID string       `json:"purchase_order_id" validate:"required"`
	InvoiceAmount   amount       `json:"invoice_amount"`
	Items           []GRNLineReq `json:"items" validate:"required,min=1,dive"`
}

type UpdateGRNReq struct {
	InvoiceAmount amount       `json:"invoice_amount"`
	Items         []GRNLineReq `json:"items" validate:"dive"`
}

type DocumentResp struct {
	Document any         `json:"document"`
	Match    money.Match `json:"match"`
}

func (h *ProcurementHandler) Register(r chi.Router) {
	r.Post("/purchase-orders", h.createPurchaseOrder)
	r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
	r.Post("/purchase-orders/{id}/invoice", h.recordInvoice)
	r.Post("/grns", h.createGRN)
	r.Get("/grns/{id}", h.getGRN)
	r.Put("/grns/{id}", h.updateGRN)
}

func (h *ProcurementHandler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseOrderReq
	if !decode(w, r, &req) {
		return
	}
	in := procurement.PurchaseOrderInput{GstPercentage: req.GstPercentage}
	for _, it := range req.Items {
		in.Items = append(in.Items, procurement.PurchaseOrderItem{
			ArticleID:       it.ArticleID,
			CostPrice:       it.CostPrice,
			OrderedQuantity: it.OrderedQuantity,
			GstPercentage:   it.GstPercentage,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	po, err := h.Service.CreatePurchaseOrder(ctx, actorFrom(r), in)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, po)
}

func (h *ProcurementHandler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	po, err := h.Service.Store.GetPurchaseOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, po)
}

func (h *ProcurementHandler) recordInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	po, m, err := h.Service.RecordPurchaseOrderInvoice(ctx, actorFrom(r), chi.URLParam(r, "id"), string(req.InvoiceAmount))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResp{Document: po, Match: m})
}

func (h *ProcurementHandler) createGRN(w http.ResponseWriter, r *http.Request) {
	var req CreateGRNReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	g, m, err := h.Service.CreateGRN(ctx, actorFrom(r), procurement.GRNInput{
		PurchaseOrderID: req.PurchaseOrderID,
		Items:           grnLines(req.Items),
		InvoiceAmount:   string(req.InvoiceAmount),
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DocumentResp{Document: g, Match: m})
}

func (h *ProcurementHandler) getGRN(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	g, err := h.Service.Store.GetGRN(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *ProcurementHandler) updateGRN(w http.ResponseWriter, r *http.Request) {
	var req UpdateGRNReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	g, m, err := h.Service.UpdateGRN(ctx, actorFrom(r), chi.URLParam(r, "id"), procurement.GRNUpdate{
		Items:         grnLines(req.Items),
		InvoiceAmount: string(req.InvoiceAmount),
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentResp{Document: g, Match: m})
}

func grnLines(in []GRNLineReq) []procurement.GRNLine {
	out := make([]procurement.GRNLine, 0, len(in))
	for _, l := range in {
		out = append(out, procurement.GRNLine{
			ArticleID:        l.ArticleID,
			ReceivedQuantity: l.ReceivedQuantity,
			RejectedQuantity: l.RejectedQuantity,
			UnitPrice:        l.UnitPrice,
			GstPercentage:    l.GstPercentage,
		})
	}
	return out
}
