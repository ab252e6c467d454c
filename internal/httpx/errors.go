package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-cardstore/internal/checkout"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"go.uber.org/zap"
	"net/http"
)

type errBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError memetakan taksonomi error ke status HTTP. OutOfStock harus beda
// dari fault biasa supaya UI bisa tampilkan "sold out".
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, stock.ErrOutOfStock):
		writeJSON(w, http.StatusConflict, errBody{Error: "sold out", Code: "OUT_OF_STOCK"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody{Error: "not found", Code: "NOT_FOUND"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errBody{Error: err.Error(), Code: "INVALID_TRANSITION"})
	case errors.Is(err, orders.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errBody{Error: err.Error(), Code: "ALREADY_EXISTS"})
	case errors.Is(err, orders.ErrAlreadyCheckedIn):
		writeJSON(w, http.StatusConflict, errBody{Error: err.Error(), Code: "ALREADY_CHECKED_IN"})
	case errors.Is(err, checkout.ErrUserBlocked):
		writeJSON(w, http.StatusForbidden, errBody{Error: "user is blocked", Code: "USER_BLOCKED"})
	case errors.Is(err, checkout.ErrPurchaseLimit):
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error(), Code: "PURCHASE_LIMIT"})
	case errors.Is(err, checkout.ErrInvalidInput), errors.Is(err, stock.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error(), Code: "INVALID_INPUT"})
	case errors.Is(err, stock.ErrStoreUnavailable):
		log.Error("store unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errBody{Error: "service unavailable", Code: "STORE_UNAVAILABLE"})
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "internal error", Code: "INTERNAL"})
	}
}
