package expiry

import (
	"context"
	"encoding/json"
	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
)

type recordingPublisher struct{ msgs []kafkago.Message }

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

func TestNotifyInvalidatesCacheAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	require.NoError(t, redisx.CacheStatus(ctx, rdb, "O1", "pending"))

	pub := &recordingPublisher{}
	n := &Notifier{Redis: rdb, Producer: pub, ServiceName: "test", Log: zap.NewNop()}
	n.Notify(ctx, []string{"O1", "O2"})

	_, ok, err := redisx.CachedStatus(ctx, rdb, "O1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "O2", string(pub.msgs[1].Key))
	assert.Equal(t, orders.EventOrderCancelled, kafkax.Header(pub.msgs[0], kafkax.HeaderEventType))

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].Value, &env))
	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.OrderCancelledPayload{OrderID: "O1", Reason: orders.CancelReasonExpired}, p)
}

func TestNotifyWithoutDeps(t *testing.T) {
	n := &Notifier{Log: zap.NewNop()}
	assert.NotPanics(t, func() { n.Notify(context.Background(), []string{"O1"}) })
}
