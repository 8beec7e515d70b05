package httpx

import (
	"net/http"

	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TotalsHandler previews totals for forms before anything is submitted.
type TotalsHandler struct {
	Tolerance decimal.Decimal
	Log       logrus.FieldLogger
}

type PreviewReq struct {
	Mode          string           `json:"mode" validate:"required,oneof=inclusive exclusive-per-line exclusive-flat"`
	GstPercentage *decimal.Decimal `json:"gst_percentage"`
	Items         []money.Line     `json:"items" validate:"required,min=1"`
	InvoiceAmount amount           `json:"invoice_amount"`
}

type PreviewResp struct {
	Totals money.Totals `json:"totals"`
	Match  *money.Match `json:"match,omitempty"`
}

func (h *TotalsHandler) Register(r chi.Router) {
	r.Post("/totals/preview", h.preview)
}

func (h *TotalsHandler) preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewReq
	if !decode(w, r, &req) {
		return
	}
	totals, err := money.Compute(req.Items, money.TaxMode(req.Mode), money.WithFlatGst(req.GstPercentage))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	resp := PreviewResp{Totals: totals.Rounded()}
	if req.InvoiceAmount != "" {
		m := money.ValidateAgainstExternalAmount(resp.Totals.GrandTotal, string(req.InvoiceAmount), h.Tolerance)
		resp.Match = &m
	}
	writeJSON(w, http.StatusOK, resp)
}
