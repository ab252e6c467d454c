package checkout

import (
	"context"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"strings"
	"time"
)

var (
	ErrPurchaseLimit = errors.New("quantity exceeds purchase limit")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUserBlocked   = errors.New("user is blocked")
)

// OrderStore: bagian orders.Repo yang dipakai checkout.
type OrderStore interface {
	GetProduct(ctx context.Context, productID string, cutoff time.Time) (orders.ProductStock, error)
	ListProducts(ctx context.Context, cutoff time.Time, activeOnly bool) ([]orders.ProductStock, error)
	SaveProduct(ctx context.Context, p orders.Product) error
	AddCards(ctx context.Context, productID string, keys []string) (int, error)

	CreateOrder(ctx context.Context, o orders.Order) error
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to orders.Status) error
	MarkPaid(ctx context.Context, orderID, tradeNo string, at time.Time) error
	PendingOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]orders.Order, error)
	DashboardStats(ctx context.Context, now time.Time) (orders.DashboardStats, error)
}

// CatalogStore: pencarian product + kategori.
type CatalogStore interface {
	SearchProducts(ctx context.Context, cutoff time.Time, p orders.ProductSearch) (orders.ProductPage, error)
	ListCategories(ctx context.Context) ([]orders.Category, error)
	SaveCategory(ctx context.Context, c orders.Category) (int64, error)
}

// CustomerStore: user login, poin, blokir dan check-in harian.
type CustomerStore interface {
	RecordLogin(ctx context.Context, userID, username string, at time.Time) error
	VisitorCount(ctx context.Context) (int, error)
	IsBlocked(ctx context.Context, userID string) (bool, error)
	ListCustomers(ctx context.Context, q string, page, pageSize int) (orders.CustomerPage, error)
	SetPoints(ctx context.Context, userID string, points int) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	CheckIn(ctx context.Context, userID string, day time.Time, reward int) (int, error)
}

var (
	_ OrderStore    = (*orders.Repo)(nil)
	_ CatalogStore  = (*orders.Repo)(nil)
	_ CustomerStore = (*orders.Repo)(nil)
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Publishers per topic; nil = event tidak dikirim.
type Publishers struct {
	Created   Publisher
	Paid      Publisher
	Cancelled Publisher
}

type Service struct {
	Orders      OrderStore
	Catalog     CatalogStore
	Customers   CustomerStore // nil = fitur customer mati
	Stock       *stock.Service
	Redis       *redis.Client
	Events      Publishers
	ServiceName string
	Clock       stock.Clock
	Log         *zap.Logger

	CheckinReward int // poin per check-in harian
}

type PlaceOrderReq struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Email          string `json:"email"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	IdempotencyKey string `json:"idempotency_key"`
	TraceID        string `json:"-"`
}

type Placed struct {
	Order       orders.Order      `json:"order"`
	Reservation stock.Reservation `json:"reservation"`
	Idempotent  bool              `json:"idempotent"`
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return stock.SystemClock.Now()
	}
	return s.Clock.Now()
}

// PlaceOrder membuat order pending lalu me-reserve kartunya. Kalau stok kurang,
// order ditandai failed dan error-nya stock.ErrOutOfStock.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderReq) (Placed, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.ProductID == "" || req.Quantity < 0 {
		return Placed{}, fmt.Errorf("%w: product_id and positive quantity required", ErrInvalidInput)
	}
	if req.UserID != "" && s.Customers != nil {
		blocked, err := s.Customers.IsBlocked(ctx, req.UserID)
		if err != nil {
			return Placed{}, err
		}
		if blocked {
			return Placed{}, fmt.Errorf("%w: %s", ErrUserBlocked, req.UserID)
		}
	}

	// fast path idempotency; DB tetap jadi kebenaran
	if req.IdempotencyKey != "" && s.Redis != nil {
		if id, err := redisx.LookupOrder(ctx, s.Redis, req.IdempotencyKey); err != nil {
			s.Log.Warn("idempotency lookup", zap.Error(err))
		} else if id != "" {
			o, err := s.Orders.GetOrder(ctx, id)
			if err == nil {
				return Placed{Order: o, Idempotent: true}, nil
			}
			if !errors.Is(err, orders.ErrNotFound) {
				return Placed{}, err
			}
		}
	}

	now := s.now()
	p, err := s.Orders.GetProduct(ctx, req.ProductID, stock.Cutoff(now))
	if err != nil {
		return Placed{}, err
	}
	if !p.IsActive {
		return Placed{}, fmt.Errorf("product %s: %w", req.ProductID, orders.ErrNotFound)
	}
	if p.PurchaseLimit != nil && *p.PurchaseLimit > 0 && req.Quantity > *p.PurchaseLimit {
		return Placed{}, fmt.Errorf("%w: max %d", ErrPurchaseLimit, *p.PurchaseLimit)
	}

	o := orders.Order{
		ID:          uuid.NewString(),
		ProductID:   p.ID,
		ProductName: p.Name,
		Amount:      p.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		Email:       strings.TrimSpace(req.Email),
		Status:      orders.StatusPending,
		UserID:      req.UserID,
		Username:    req.Username,
		Quantity:    req.Quantity,
		CreatedAt:   now,
	}
	if err := s.Orders.CreateOrder(ctx, o); err != nil {
		return Placed{}, err
	}

	res, err := s.Stock.ReserveUnits(ctx, p.ID, o.ID, o.Quantity)
	if err != nil {
		if uerr := s.Orders.UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusFailed); uerr != nil {
			s.Log.Error("mark order failed", zap.String("order_id", o.ID), zap.Error(uerr))
		} else {
			o.Status = orders.StatusFailed
		}
		return Placed{Order: o}, err
	}

	if req.IdempotencyKey != "" && s.Redis != nil {
		winner, err := redisx.RememberOrder(ctx, s.Redis, req.IdempotencyKey, o.ID)
		if err != nil {
			s.Log.Warn("idempotency remember", zap.Error(err))
		} else if winner != o.ID {
			// request paralel dengan key yang sama menang duluan; lepas hold kita
			s.discard(ctx, o.ID)
			prev, err := s.Orders.GetOrder(ctx, winner)
			if err != nil {
				return Placed{}, err
			}
			return Placed{Order: prev, Idempotent: true}, nil
		}
	}
	s.cacheStatus(ctx, o.ID, o.Status)

	s.publish(s.Events.Created, orders.EventOrderCreated, o.ID, req.TraceID, orders.OrderCreatedPayload{
		OrderID:   o.ID,
		ProductID: o.ProductID,
		UserID:    o.UserID,
		Quantity:  o.Quantity,
		Amount:    o.Amount,
		ExpiresAt: res.ExpiresAt,
	})
	s.Log.Info("order placed",
		zap.String("order_id", o.ID), zap.String("product_id", o.ProductID), zap.Int("quantity", o.Quantity))
	return Placed{Order: o, Reservation: res}, nil
}

func (s *Service) discard(ctx context.Context, orderID string) {
	if err := s.Orders.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusCancelled); err != nil {
		s.Log.Warn("discard duplicate order", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if _, err := s.Stock.ReleaseReservation(ctx, orderID); err != nil {
		s.Log.Warn("release duplicate order", zap.String("order_id", orderID), zap.Error(err))
	}
}

// CancelOrder: pending -> cancelled, lalu lepas kartunya. Dua statement terpisah;
// kalau release gagal, kartu tetap kembali available setelah stale.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	_, err := s.cancel(ctx, orderID)
	return err
}

func (s *Service) cancel(ctx context.Context, orderID string) (int64, error) {
	if err := s.Orders.UpdateStatus(ctx, orderID, orders.StatusPending, orders.StatusCancelled); err != nil {
		return 0, err
	}
	s.cacheStatus(ctx, orderID, orders.StatusCancelled)
	n, err := s.Stock.ReleaseReservation(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("release reservation: %w", err)
	}
	s.publish(s.Events.Cancelled, orders.EventOrderCancelled, orderID, "", orders.OrderCancelledPayload{
		OrderID: orderID, Reason: orders.CancelReasonUser,
	})
	s.Log.Info("order cancelled", zap.String("order_id", orderID), zap.Int64("released", n))
	return n, nil
}

// ConfirmPayment dipanggil callback payment. Order yang sudah expired tidak bisa dibayar.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, tradeNo string) error {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{OrderID: orderID}); err != nil {
		s.Log.Warn("reconcile before payment", zap.String("order_id", orderID), zap.Error(err))
	}
	if err := s.Orders.MarkPaid(ctx, orderID, tradeNo, s.now()); err != nil {
		return err
	}
	s.cacheStatus(ctx, orderID, orders.StatusPaid)
	s.publish(s.Events.Paid, orders.EventOrderPaid, orderID, "", orders.OrderPaidPayload{OrderID: orderID, TradeNo: tradeNo})
	s.Log.Info("order paid", zap.String("order_id", orderID))
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{OrderID: orderID}); err != nil {
		s.Log.Warn("reconcile order", zap.String("order_id", orderID), zap.Error(err))
	}
	return s.Orders.GetOrder(ctx, orderID)
}

// OrderStatus: cache redis dulu, fallback DB.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (orders.Status, error) {
	if s.Redis != nil {
		if st, ok, err := redisx.CachedStatus(ctx, s.Redis, orderID); err == nil && ok {
			return orders.Status(st), nil
		}
	}
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, orderID, o.Status)
	return o.Status, nil
}

func (s *Service) PendingOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	if _, err := s.Stock.CancelExpiredOrders(ctx, stock.Filter{UserID: userID}); err != nil {
		s.Log.Warn("reconcile user orders", zap.String("user_id", userID), zap.Error(err))
	}
	return s.Orders.PendingOrdersByUser(ctx, userID)
}

func (s *Service) cacheStatus(ctx context.Context, orderID string, st orders.Status) {
	if s.Redis == nil {
		return
	}
	if err := redisx.CacheStatus(ctx, s.Redis, orderID, string(st)); err != nil {
		s.Log.Warn("cache order status", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(p Publisher, eventType, orderID, traceID string, payload any) {
	if p == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, s.ServiceName, orderID, traceID, payload)
	if err != nil {
		s.Log.Error("build envelope", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env), kafkax.EventHeaders(eventType, env.EventVersion)...)
}
