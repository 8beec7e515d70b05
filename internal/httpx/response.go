package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	"github.com/ariefcatur/fulfillment-ops/internal/money"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func actorFrom(r *http.Request) orders.Actor {
	return orders.Actor{
		UserID:   r.Header.Get(HeaderUserID),
		FullName: r.Header.Get(HeaderUserName),
	}
}

// decode reads a JSON body into v and runs the struct validators. It writes
// the 400 response itself and reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": processValidationErrors(ve),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func processValidationErrors(ve validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrDocumentLocked), errors.Is(err, errs.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, errs.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrMissingActor):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrInvalidQuantity),
		errors.Is(err, errs.ErrInvalidPrice),
		errors.Is(err, errs.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, r *http.Request, err error) {
	code := statusFor(err)
	body := map[string]any{"error": err.Error()}
	var mismatch *money.MismatchError
	if errors.As(err, &mismatch) {
		body["match"] = mismatch.Match
	}
	if code == http.StatusInternalServerError {
		log.WithFields(logrus.Fields{
			"module": "httpx",
			"path":   r.URL.Path,
		}).WithError(err).Error("request failed")
		body["error"] = "internal error"
	}
	writeJSON(w, code, body)
}

// amount accepts a JSON number or string and keeps the raw text, so an
// empty or malformed invoice amount reaches the validator unchanged.
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}
	*a = amount(b)
	return nil
}
