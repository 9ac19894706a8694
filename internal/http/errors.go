package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
)

const (
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeInvalidInput        = "invalid_input"
	codeInvalidQuantity     = "invalid_quantity"
	codeMalformedWebhook    = "malformed_webhook_payload"
	codeProductNotFound     = "product_not_found"
	codeHoldNotFound        = "hold_not_found"
	codeOrderNotFound       = "order_not_found"
	codeInsufficientStock   = "insufficient_stock"
	codeHoldInvalid         = "hold_invalid"
	codeHoldAlreadyConsumed = "hold_already_consumed"
	codeTxConflict          = "tx_conflict"
	codeRateLimited         = "rate_limited"
	codeNotReady            = "not_ready"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is logged and reported as a 500 without detail.
func writeDomainError(w http.ResponseWriter, logger observability.Logger, err error) {
	status, code := http.StatusInternalServerError, codeInternalError
	switch {
	case errors.Is(err, domain.ErrMalformedWebhookPayload):
		status, code = http.StatusUnprocessableEntity, codeMalformedWebhook
	case errors.Is(err, domain.ErrInvalidQuantity):
		status, code = http.StatusUnprocessableEntity, codeInvalidQuantity
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusUnprocessableEntity, codeInvalidInput
	case errors.Is(err, domain.ErrProductNotFound):
		status, code = http.StatusNotFound, codeProductNotFound
	case errors.Is(err, domain.ErrHoldNotFound):
		status, code = http.StatusNotFound, codeHoldNotFound
	case errors.Is(err, domain.ErrOrderNotFound):
		status, code = http.StatusNotFound, codeOrderNotFound
	case errors.IsAny(err, domain.ErrHoldCreationFailed, domain.ErrInsufficientStock):
		status, code = http.StatusConflict, codeInsufficientStock
	case errors.Is(err, domain.ErrHoldInvalid):
		status, code = http.StatusConflict, codeHoldInvalid
	case errors.Is(err, domain.ErrHoldAlreadyConsumed):
		status, code = http.StatusConflict, codeHoldAlreadyConsumed
	case errors.Is(err, domain.ErrSerializationFailure):
		status, code = http.StatusConflict, codeTxConflict
	}

	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}
