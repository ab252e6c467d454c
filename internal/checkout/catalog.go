package checkout

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"go.uber.org/zap"
	"strings"
)

// ListProducts: reconcile semua order expired dulu supaya hold basi tidak terbaca reserved.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]orders.ProductStock, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{}); err != nil {
		s.Log.Warn("reconcile before listing", zap.Error(err))
	}
	return s.Orders.ListProducts(ctx, stock.Cutoff(s.now()), activeOnly)
}

// SearchProducts: pencarian storefront. Stok dihitung pada cutoff yang sama
// dengan GetStockCounts, setelah reconcile global.
func (s *Service) SearchProducts(ctx context.Context, q orders.ProductSearch) (orders.ProductPage, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{}); err != nil {
		s.Log.Warn("reconcile before search", zap.Error(err))
	}
	return s.Catalog.SearchProducts(ctx, stock.Cutoff(s.now()), q)
}

func (s *Service) Categories(ctx context.Context) ([]orders.Category, error) {
	return s.Catalog.ListCategories(ctx)
}

func (s *Service) SaveCategory(ctx context.Context, c orders.Category) (int64, error) {
	c.Name, c.Icon = strings.TrimSpace(c.Name), strings.TrimSpace(c.Icon)
	if c.Name == "" {
		return 0, fmt.Errorf("%w: category name required", ErrInvalidInput)
	}
	return s.Catalog.SaveCategory(ctx, c)
}

// GetProduct untuk storefront; product nonaktif dianggap tidak ada.
func (s *Service) GetProduct(ctx context.Context, productID string) (orders.ProductStock, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{ProductID: productID}); err != nil {
		s.Log.Warn("reconcile before product read", zap.String("product_id", productID), zap.Error(err))
	}
	p, err := s.Orders.GetProduct(ctx, productID, stock.Cutoff(s.now()))
	if err != nil {
		return orders.ProductStock{}, err
	}
	if !p.IsActive {
		return orders.ProductStock{}, fmt.Errorf("product %s: %w", productID, orders.ErrNotFound)
	}
	return p, nil
}

func (s *Service) SaveProduct(ctx context.Context, p orders.Product) error {
	p.ID, p.Name = strings.TrimSpace(p.ID), strings.TrimSpace(p.Name)
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("%w: id and name required", ErrInvalidInput)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidInput)
	}
	if p.PurchaseLimit != nil && *p.PurchaseLimit <= 0 {
		p.PurchaseLimit = nil
	}
	return s.Orders.SaveProduct(ctx, p)
}

func (s *Service) AddCards(ctx context.Context, productID string, keys []string) (int, error) {
	n, err := s.Orders.AddCards(ctx, productID, keys)
	if err != nil {
		return 0, err
	}
	s.Log.Info("cards provisioned", zap.String("product_id", productID), zap.Int("count", n))
	return n, nil
}

// StockCounts: partisi stok satu product (reconcile lazy dilakukan stock.Service).
func (s *Service) StockCounts(ctx context.Context, productID string) (stock.Counts, error) {
	return s.Stock.GetStockCounts(ctx, productID)
}

func (s *Service) Reconcile(ctx context.Context, f stock.Filter) ([]string, error) {
	return s.Stock.CancelExpiredOrders(ctx, f)
}

// ReleaseReservation (admin): order pending di-cancel dulu lewat CancelOrder;
// order cancelled/failed cukup dilepas kartunya. Order paid ke atas ditolak
// karena kartunya sedang menunggu delivery.
func (s *Service) ReleaseReservation(ctx context.Context, orderID string) (int64, error) {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	switch o.Status {
	case orders.StatusPending:
		return s.cancel(ctx, orderID)
	case orders.StatusCancelled, orders.StatusFailed:
		return s.Stock.ReleaseReservation(ctx, orderID)
	}
	return 0, fmt.Errorf("%w: order %s is %s", orders.ErrInvalidTransition, orderID, o.Status)
}

func (s *Service) Dashboard(ctx context.Context) (orders.DashboardStats, error) {
	st, err := s.Orders.DashboardStats(ctx, s.now())
	if err != nil || s.Customers == nil {
		return st, err
	}
	if st.Visitors, err = s.Customers.VisitorCount(ctx); err != nil {
		return orders.DashboardStats{}, err
	}
	return st, nil
}

func (s *Service) RecentOrders(ctx context.Context, limit int) ([]orders.Order, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{}); err != nil {
		s.Log.Warn("reconcile before recent orders", zap.Error(err))
	}
	return s.Orders.RecentOrders(ctx, limit)
}
