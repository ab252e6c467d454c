// Package expiry menyebarkan hasil reconcile: order yang di-cancel karena
// expired di-invalidate dari cache status lalu dipublish sebagai order.cancelled.
package expiry

import (
	"context"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Notifier struct {
	Redis       *redis.Client // boleh nil
	Producer    Publisher     // order.cancelled, boleh nil
	ServiceName string
	Log         *zap.Logger
}

// Notify dipasang ke stock.Service.OnExpired.
func (n *Notifier) Notify(ctx context.Context, orderIDs []string) {
	if len(orderIDs) == 0 {
		return
	}
	if n.Redis != nil {
		if err := redisx.InvalidateStatus(ctx, n.Redis, orderIDs...); err != nil {
			n.Log.Warn("invalidate status cache", zap.Error(err))
		}
	}
	if n.Producer == nil {
		return
	}
	for _, id := range orderIDs {
		env, err := orders.NewEnvelope(orders.EventOrderCancelled, n.ServiceName, id, "",
			orders.OrderCancelledPayload{OrderID: id, Reason: orders.CancelReasonExpired})
		if err != nil {
			n.Log.Error("build envelope", zap.String("order_id", id), zap.Error(err))
			continue
		}
		n.Producer.Publish(orders.PartitionKey(id), kafkax.MustMarshal(env),
			kafkax.EventHeaders(orders.EventOrderCancelled, env.EventVersion)...)
	}
}
