package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-cardstore/internal/checkout"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"time"
)

// Shop: operasi checkout.Service yang diekspos lewat HTTP.
type Shop interface {
	SearchProducts(ctx context.Context, q orders.ProductSearch) (orders.ProductPage, error)
	Categories(ctx context.Context) ([]orders.Category, error)
	GetProduct(ctx context.Context, productID string) (orders.ProductStock, error)
	StockCounts(ctx context.Context, productID string) (stock.Counts, error)
	PlaceOrder(ctx context.Context, req checkout.PlaceOrderReq) (checkout.Placed, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	OrderStatus(ctx context.Context, orderID string) (orders.Status, error)
	CancelOrder(ctx context.Context, orderID string) error
	ConfirmPayment(ctx context.Context, orderID, tradeNo string) error
	PendingOrders(ctx context.Context, userID string) ([]orders.Order, error)
	RecordLogin(ctx context.Context, userID, username string) error
	CheckIn(ctx context.Context, userID string) (int, error)
}

var _ Shop = (*checkout.Service)(nil)

type OrdersHandler struct {
	Shop Shop
	Log  *zap.Logger
	// AdminToken melindungi callback pembayaran.
	AdminToken string
}

type confirmPaymentReq struct {
	TradeNo string `json:"trade_no"`
}

type loginReq struct {
	Username string `json:"username"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.searchProducts)
	r.Get("/categories", h.categories)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/stock", h.productStock)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.With(AdminOnly(h.AdminToken)).Post("/orders/{id}/paid", h.confirmPayment)
	r.Get("/users/{id}/orders/pending", h.pendingOrders)
	// login dicatat oleh auth gateway, bukan browser
	r.With(AdminOnly(h.AdminToken)).Post("/users/{id}/login", h.recordLogin)
	r.Post("/users/{id}/checkin", h.checkIn)
}

// searchProducts: ?q=&category=&sort=&page=&page_size=
func (h *OrdersHandler) searchProducts(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	page, _ := strconv.Atoi(qs.Get("page"))
	size, _ := strconv.Atoi(qs.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Shop.SearchProducts(ctx, orders.ProductSearch{
		Query: qs.Get("q"), Category: qs.Get("category"), Sort: qs.Get("sort"), Page: page, PageSize: size,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) categories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cats, err := h.Shop.Categories(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if cats == nil {
		cats = []orders.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *OrdersHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Shop.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *OrdersHandler) productStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Shop.StockCounts(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	req.TraceID = middleware.GetReqID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	placed, err := h.Shop.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	code := http.StatusCreated
	if placed.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, placed)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Shop.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Shop.OrderStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]orders.Status{"status": st})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Shop.CancelOrder(ctx, id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(orders.StatusCancelled)})
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := h.Shop.ConfirmPayment(ctx, id, req.TradeNo); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": id, "status": string(orders.StatusPaid)})
}

func (h *OrdersHandler) pendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Shop.PendingOrders(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) recordLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Shop.RecordLogin(ctx, chi.URLParam(r, "id"), req.Username); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) checkIn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	pts, err := h.Shop.CheckIn(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"points": pts})
}
