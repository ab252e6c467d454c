package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"strings"
	"time"
)

type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	MarkDelivered(ctx context.Context, orderID, cardKey string, at time.Time) error
}

// CardSeller menjual kartu yang di-hold order; all-or-nothing.
type CardSeller interface {
	SellCards(ctx context.Context, orderID, productID string, qty int, now time.Time) ([]string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Orders      OrderStore
	Cards       CardSeller
	Stock       *stock.Service
	Redis       *redis.Client
	Producer    Publisher // order.delivered, boleh nil
	ServiceName string
	Clock       stock.Clock
	Log         *zap.Logger
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return stock.SystemClock.Now()
	}
	return s.Clock.Now()
}

// HandleOrderPaid: dipasang sebagai handler consumer order.paid.
func (s *Service) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	// header cukup untuk skip event lain tanpa decode body
	if et := kafkax.Header(m, kafkax.HeaderEventType); et != "" && et != orders.EventOrderPaid {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("drop malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil // poison message, jangan retry terus
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "delivery", env.EventID)
	if s.Redis != nil {
		first, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err == nil {
		err = s.Deliver(ctx, p.OrderID, env.TraceID)
	}
	if err != nil && s.Redis != nil {
		// lepas claim supaya redelivery boleh diproses ulang
		_ = s.Redis.Del(ctx, dkey).Err()
	}
	return err
}

// Deliver menjual kartu order paid lalu menandai order delivered. Idempotent:
// order yang bukan paid di-skip.
func (s *Service) Deliver(ctx context.Context, orderID, traceID string) error {
	o, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.Status != orders.StatusPaid {
		s.Log.Info("skip delivery", zap.String("order_id", orderID), zap.String("status", string(o.Status)))
		return nil
	}

	keys, err := s.sell(ctx, o)
	if errors.Is(err, stock.ErrOutOfStock) {
		// sudah dibayar tapi stok habis: tetap paid, ditangani admin (refund)
		s.Log.Warn("paid order cannot be fulfilled", zap.String("order_id", orderID),
			zap.String("product_id", o.ProductID), zap.Int("quantity", o.Quantity))
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.Orders.MarkDelivered(ctx, orderID, strings.Join(keys, "\n"), s.now()); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) {
			s.Log.Warn("order changed during delivery", zap.String("order_id", orderID), zap.Error(err))
			return nil
		}
		return err
	}
	if s.Redis != nil {
		if err := redisx.CacheStatus(ctx, s.Redis, orderID, string(orders.StatusDelivered)); err != nil {
			s.Log.Warn("cache order status", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.publishDelivered(o, traceID)
	s.Log.Info("order delivered", zap.String("order_id", orderID), zap.Int("cards", len(keys)))
	return nil
}

// sell: jual kartu yang masih di-hold. Kalau hold sudah diambil order lain
// (reservasi basi), reserve ulang sekali lalu coba lagi.
func (s *Service) sell(ctx context.Context, o orders.Order) ([]string, error) {
	keys, err := s.Cards.SellCards(ctx, o.ID, o.ProductID, o.Quantity, s.now())
	if err != nil || len(keys) == o.Quantity {
		return keys, err
	}

	s.Log.Info("reservation lost, re-reserving", zap.String("order_id", o.ID))
	if _, err := s.Stock.ReleaseReservation(ctx, o.ID); err != nil {
		return nil, err
	}
	if _, err := s.Stock.ReserveUnits(ctx, o.ProductID, o.ID, o.Quantity); err != nil {
		return nil, err
	}
	keys, err = s.Cards.SellCards(ctx, o.ID, o.ProductID, o.Quantity, s.now())
	if err != nil {
		return nil, err
	}
	if len(keys) != o.Quantity {
		return nil, stock.ErrOutOfStock
	}
	return keys, nil
}

func (s *Service) publishDelivered(o orders.Order, traceID string) {
	if s.Producer == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderDelivered, s.ServiceName, o.ID, traceID,
		orders.OrderDeliveredPayload{OrderID: o.ID, Quantity: o.Quantity})
	if err != nil {
		s.Log.Error("build envelope", zap.Error(err))
		return
	}
	s.Producer.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(orders.EventOrderDelivered, env.EventVersion)...)
}
