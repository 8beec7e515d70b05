package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/fulfillment-ops/internal/inventory"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/ariefcatur/fulfillment-ops/internal/procurement"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type testServer struct {
	handler http.Handler
	orders  *orders.MemRepo
	procure *procurement.MemRepo
}

// newTestServer seeds order o-1 (pending, total 130) with apples x2 @ 50
// and milk x3 @ 10; apples stock 10, milk stock 5.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log, _ := logtest.NewNullLogger()

	orepo := orders.NewMemRepo()
	orepo.PutProduct(orders.Product{ID: "apples", SKU: "A", Name: "Apples", Stock: 10})
	orepo.PutProduct(orders.Product{ID: "milk", SKU: "M", Name: "Milk", Stock: 5})
	orepo.PutOrder(orders.Order{
		ID:          "o-1",
		Status:      orders.StatusPending,
		TotalAmount: decimal.NewFromInt(130),
		Items: []orders.OrderItem{
			{ID: "i-1", OrderID: "o-1", ProductID: "apples", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
			{ID: "i-2", OrderID: "o-1", ProductID: "milk", Quantity: 3, UnitPrice: decimal.NewFromInt(10)},
		},
	})
	prepo := procurement.NewMemRepo()

	r := NewRouter(log)
	(&OrdersHandler{
		Inventory: &inventory.Service{Store: orepo, Log: log},
		Store:     orepo,
		Log:       log,
	}).Register(r)
	(&ProcurementHandler{Service: &procurement.Service{Store: prepo, Log: log}, Log: log}).Register(r)
	(&TotalsHandler{Log: log}).Register(r)

	return &testServer{handler: r, orders: orepo, procure: prepo}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "u-1")
	req.Header.Set(HeaderUserName, "Ops Admin")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) stock(t *testing.T, id string) int {
	t.Helper()
	n, ok := s.orders.Stock(id)
	if !ok {
		t.Fatalf("product %s missing", id)
	}
	return n
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPatch, "/orders/o-1/status", `{"status":"confirmed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[ReconcileResp](t, rec)
	if !resp.Result.Changed || resp.Result.Action != orders.StockDeduct {
		t.Fatalf("result = %+v", resp.Result)
	}
	if s.stock(t, "apples") != 8 || s.stock(t, "milk") != 2 {
		t.Fatalf("stock apples=%d milk=%d", s.stock(t, "apples"), s.stock(t, "milk"))
	}

	rec = s.do(t, http.MethodPatch, "/orders/o-1/status", `{"status":"confirmed"}`)
	resp = decodeBody[ReconcileResp](t, rec)
	if rec.Code != http.StatusOK || resp.Result.Changed || resp.Message != "no changes made" {
		t.Fatalf("repeat: code=%d resp=%+v", rec.Code, resp)
	}
	if s.stock(t, "apples") != 8 {
		t.Fatalf("repeat changed stock: %d", s.stock(t, "apples"))
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name  string
		path  string
		body  string
		actor bool
		want  int
	}{
		{"unknown status", "/orders/o-1/status", `{"status":"shipped"}`, true, http.StatusBadRequest},
		{"missing status", "/orders/o-1/status", `{}`, true, http.StatusBadRequest},
		{"bad json", "/orders/o-1/status", `{`, true, http.StatusBadRequest},
		{"unknown order", "/orders/nope/status", `{"status":"confirmed"}`, true, http.StatusNotFound},
		{"no actor", "/orders/o-1/status", `{"status":"confirmed"}`, false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, tt.path, strings.NewReader(tt.body))
			if tt.actor {
				req.Header.Set(HeaderUserID, "u-1")
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
	if s.stock(t, "apples") != 10 {
		t.Fatalf("stock changed: %d", s.stock(t, "apples"))
	}
}

func TestUpdateItem(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPatch, "/orders/o-1/status", `{"status":"confirmed"}`)

	rec := s.do(t, http.MethodPatch, "/orders/o-1/items/i-1", `{"quantity":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	resp := decodeBody[ReconcileResp](t, rec)
	if !resp.Result.NewTotal.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("new total = %s", resp.Result.NewTotal)
	}
	if s.stock(t, "apples") != 5 {
		t.Fatalf("apples stock = %d, want 5", s.stock(t, "apples"))
	}

	rec = s.do(t, http.MethodPatch, "/orders/o-1/items/i-1", `{"quantity":4,"unit_price":"40"}`)
	resp = decodeBody[ReconcileResp](t, rec)
	if rec.Code != http.StatusOK || !resp.Result.NewTotal.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("code=%d resp=%+v", rec.Code, resp)
	}
	if !resp.Result.OldTotal.Equal(decimal.NewFromInt(280)) {
		t.Fatalf("old total = %s", resp.Result.OldTotal)
	}
	if s.stock(t, "apples") != 6 {
		t.Fatalf("apples stock = %d, want 6", s.stock(t, "apples"))
	}
}

func TestUpdateItemRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{`{"quantity":0}`, `{"quantity":-2,"unit_price":"1"}`, `{}`, `{"unit_price":"-1"}`} {
		rec := s.do(t, http.MethodPatch, "/orders/o-1/items/i-1", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: code = %d body = %s", body, rec.Code, rec.Body)
		}
	}
	o, err := s.orders.GetOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)) || o.Items[0].Quantity != 2 {
		t.Fatalf("item changed: %+v", o.Items[0])
	}
}

func TestUpdateItemFailureKeepsPrice(t *testing.T) {
	s := newTestServer(t)
	s.orders.FailWrite = func(op, _ string) error {
		if op == "set_item_quantity" {
			return errors.New("connection reset")
		}
		return nil
	}

	rec := s.do(t, http.MethodPatch, "/orders/o-1/items/i-1", `{"quantity":4,"unit_price":"40"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
	}
	o, err := s.orders.GetOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Items[0].UnitPrice.Equal(decimal.NewFromInt(50)) || !o.TotalAmount.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("price edit leaked: item %+v total %s", o.Items[0], o.TotalAmount)
	}
}

func TestDeleteItemTwice(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPatch, "/orders/o-1/status", `{"status":"confirmed"}`)

	if rec := s.do(t, http.MethodDelete, "/orders/o-1/items/i-2", ""); rec.Code != http.StatusOK {
		t.Fatalf("first delete: %d %s", rec.Code, rec.Body)
	}
	if s.stock(t, "milk") != 5 {
		t.Fatalf("milk stock = %d, want 5", s.stock(t, "milk"))
	}
	if rec := s.do(t, http.MethodDelete, "/orders/o-1/items/i-2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
	if s.stock(t, "milk") != 5 {
		t.Fatalf("second delete restored stock: %d", s.stock(t, "milk"))
	}
}

func TestMissingProductIsAWarning(t *testing.T) {
	s := newTestServer(t)
	s.orders.PutOrder(orders.Order{
		ID:          "o-2",
		Status:      orders.StatusPending,
		TotalAmount: decimal.NewFromInt(20),
		Items: []orders.OrderItem{
			{ID: "i-9", OrderID: "o-2", ProductID: "ghost", Quantity: 1, UnitPrice: decimal.NewFromInt(20)},
		},
	})

	rec := s.do(t, http.MethodPatch, "/orders/o-2/status", `{"status":"confirmed"}`)
	resp := decodeBody[ReconcileResp](t, rec)
	if rec.Code != http.StatusOK || resp.Warning == "" || len(resp.Result.Skipped) != 1 {
		t.Fatalf("code=%d resp=%+v", rec.Code, resp)
	}
	o, _ := s.orders.GetOrder(context.Background(), "o-2")
	if o.Status != orders.StatusConfirmed {
		t.Fatalf("status = %s", o.Status)
	}
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/orders/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing order: %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/orders/o-1/status", "")
	if got := decodeBody[map[string]any](t, rec)["status"]; got != "pending" {
		t.Fatalf("status = %v", got)
	}

	rec = s.do(t, http.MethodGet, "/products", "")
	if ps := decodeBody[[]orders.Product](t, rec); len(ps) != 2 {
		t.Fatalf("products = %+v", ps)
	}

	s.orders.PutOrder(orders.Order{
		ID:          "o-3",
		Status:      orders.StatusDelivered,
		TotalAmount: decimal.NewFromInt(90),
		Items: []orders.OrderItem{
			{ID: "i-5", OrderID: "o-3", ProductID: "apples", Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
		},
	})
	rec = s.do(t, http.MethodGet, "/orders/o-3/invoice", "")
	inv := decodeBody[inventory.Invoice](t, rec)
	if !inv.Discount.Equal(decimal.NewFromInt(10)) || !inv.Payable.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("invoice = %+v", inv)
	}
}

func TestTotalsPreview(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name      string
		body      string
		code      int
		wantTotal string
		wantMatch *bool
	}{
		{
			name:      "per line with match",
			body:      `{"mode":"exclusive-per-line","items":[{"quantity":1,"unit_price":"299.99","gst_percentage":"18"}],"invoice_amount":"353.99"}`,
			code:      http.StatusOK,
			wantTotal: "353.99",
			wantMatch: ptr(true),
		},
		{
			name:      "one cent off",
			body:      `{"mode":"exclusive-per-line","items":[{"quantity":1,"unit_price":"299.99","gst_percentage":"18"}],"invoice_amount":353.98}`,
			code:      http.StatusOK,
			wantTotal: "353.99",
			wantMatch: ptr(false),
		},
		{
			name:      "flat default gst",
			body:      `{"mode":"exclusive-flat","items":[{"quantity":2,"unit_price":"50"}]}`,
			code:      http.StatusOK,
			wantTotal: "118",
		},
		{
			name: "unknown mode",
			body: `{"mode":"vat","items":[{"quantity":1,"unit_price":"1"}]}`,
			code: http.StatusBadRequest,
		},
		{
			name: "negative quantity",
			body: `{"mode":"inclusive","items":[{"quantity":-1,"unit_price":"1"}]}`,
			code: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/totals/preview", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d body = %s", rec.Code, rec.Body)
			}
			if tt.code != http.StatusOK {
				return
			}
			resp := decodeBody[PreviewResp](t, rec)
			if !resp.Totals.GrandTotal.Equal(decimal.RequireFromString(tt.wantTotal)) {
				t.Fatalf("grand total = %s", resp.Totals.GrandTotal)
			}
			if tt.wantMatch == nil {
				if resp.Match != nil {
					t.Fatalf("unexpected match %+v", resp.Match)
				}
				return
			}
			if resp.Match == nil || resp.Match.OK != *tt.wantMatch {
				t.Fatalf("match = %+v", resp.Match)
			}
		})
	}
}

func TestProcurementFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/purchase-orders",
		`{"items":[{"article_id":"rice-5kg","cost_price":"299.99","ordered_quantity":10,"gst_percentage":"18"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create po: %d %s", rec.Code, rec.Body)
	}
	po := decodeBody[procurement.PurchaseOrder](t, rec)

	rec = s.do(t, http.MethodPost, "/grns",
		`{"purchase_order_id":"`+po.ID+`","invoice_amount":"353.98","items":[{"article_id":"rice-5kg","received_quantity":1}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mismatch grn: %d %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"match"`) {
		t.Fatalf("mismatch body has no match: %s", rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/grns",
		`{"purchase_order_id":"`+po.ID+`","invoice_amount":353.99,"items":[{"article_id":"rice-5kg","received_quantity":1,"rejected_quantity":20}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create grn: %d %s", rec.Code, rec.Body)
	}
	var created struct {
		Document procurement.GRN `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Document.Items[0].RejectedQuantity != 9 {
		t.Fatalf("rejected = %d, want 9", created.Document.Items[0].RejectedQuantity)
	}

	if rec := s.do(t, http.MethodGet, "/grns/"+created.Document.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("get grn: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/purchase-orders/"+po.ID+"/invoice", `{"invoice_amount":"2999.90"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoice: %d %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPut, "/grns/"+created.Document.ID,
		`{"invoice_amount":"353.99","items":[{"article_id":"rice-5kg","received_quantity":1}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("update after invoice: %d %s", rec.Code, rec.Body)
	}
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/purchase-orders", `{"items":[{"cost_price":"1","ordered_quantity":0}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	fields := decodeBody[map[string]any](t, rec)["fields"].(map[string]any)
	if fields["CreatePurchaseOrderReq.Items[0].ArticleID"] != "required" {
		t.Fatalf("fields = %v", fields)
	}
	if fields["CreatePurchaseOrderReq.Items[0].OrderedQuantity"] != "gt" {
		t.Fatalf("fields = %v", fields)
	}
}

func ptr[T any](v T) *T { return &v }
