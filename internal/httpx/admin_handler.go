package httpx

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-cardstore/internal/checkout"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Admin interface {
	ListProducts(ctx context.Context, activeOnly bool) ([]orders.ProductStock, error)
	SaveProduct(ctx context.Context, p orders.Product) error
	AddCards(ctx context.Context, productID string, keys []string) (int, error)
	Reconcile(ctx context.Context, f stock.Filter) ([]string, error)
	ReleaseReservation(ctx context.Context, orderID string) (int64, error)
	Dashboard(ctx context.Context) (orders.DashboardStats, error)
	RecentOrders(ctx context.Context, limit int) ([]orders.Order, error)
	Categories(ctx context.Context) ([]orders.Category, error)
	SaveCategory(ctx context.Context, c orders.Category) (int64, error)
	ListCustomers(ctx context.Context, q string, page, pageSize int) (orders.CustomerPage, error)
	SetPoints(ctx context.Context, userID string, points int) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
}

var _ Admin = (*checkout.Service)(nil)

type AdminHandler struct {
	Admin Admin
	Token string
	Log   *zap.Logger
}

// addCardsReq: keys sebagai array, atau text satu key per baris.
type addCardsReq struct {
	Keys []string `json:"keys"`
	Text string   `json:"text"`
}

type pointsReq struct {
	Points int `json:"points"`
}

type blockReq struct {
	Blocked bool `json:"blocked"`
}

type reconcileResp struct {
	Cancelled []string `json:"cancelled"`
	Error     string   `json:"error,omitempty"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminOnly(h.Token))
		r.Get("/products", h.listProducts)
		r.Put("/products/{id}", h.saveProduct)
		r.Post("/products/{id}/cards", h.addCards)
		r.Get("/dashboard", h.dashboard)
		r.Get("/orders/recent", h.recentOrders)
		r.Post("/orders/{id}/release", h.release)
		r.Post("/reconcile", h.reconcile)
		r.Get("/categories", h.listCategories)
		r.Put("/categories", h.saveCategory)
		r.Get("/customers", h.listCustomers)
		r.Put("/customers/{id}/points", h.setPoints)
		r.Put("/customers/{id}/block", h.setBlocked)
	})
}

func (h *AdminHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ps, err := h.Admin.ListProducts(ctx, false)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []orders.ProductStock{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *AdminHandler) saveProduct(w http.ResponseWriter, r *http.Request) {
	var p orders.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}
	p.ID = chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.SaveProduct(ctx, p); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AdminHandler) addCards(w http.ResponseWriter, r *http.Request) {
	var req addCardsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}
	keys := append(req.Keys, strings.Split(req.Text, "\n")...)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Admin.AddCards(ctx, chi.URLParam(r, "id"), keys)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": n})
}

func (h *AdminHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := h.Admin.Dashboard(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *AdminHandler) recentOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Admin.RecentOrders(ctx, limit)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) release(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.Admin.ReleaseReservation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"released": n})
}

// reconcile: body opsional berisi stock.Filter. Error release kartu tidak
// menggagalkan request karena order-nya sudah cancelled.
func (h *AdminHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var f stock.Filter
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ids, err := h.Admin.Reconcile(ctx, f)
	if err != nil && ids == nil {
		writeError(w, h.Log, err)
		return
	}
	resp := reconcileResp{Cancelled: ids}
	if resp.Cancelled == nil {
		resp.Cancelled = []string{}
	}
	if err != nil {
		h.Log.Warn("reconcile released partially", zap.Strings("order_ids", ids), zap.Error(err))
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cats, err := h.Admin.Categories(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if cats == nil {
		cats = []orders.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *AdminHandler) saveCategory(w http.ResponseWriter, r *http.Request) {
	var c orders.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Admin.SaveCategory(ctx, c)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	c.ID = id
	writeJSON(w, http.StatusOK, c)
}

func (h *AdminHandler) listCustomers(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	page, _ := strconv.Atoi(qs.Get("page"))
	size, _ := strconv.Atoi(qs.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Admin.ListCustomers(ctx, qs.Get("q"), page, size)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) setPoints(w http.ResponseWriter, r *http.Request) {
	var req pointsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.SetPoints(ctx, chi.URLParam(r, "id"), req.Points); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) setBlocked(w http.ResponseWriter, r *http.Request) {
	var req blockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Admin.SetBlocked(ctx, chi.URLParam(r, "id"), req.Blocked); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
