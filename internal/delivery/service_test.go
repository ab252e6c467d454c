package delivery

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/go-cardstore/internal/kafka"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/ariefcatur/go-cardstore/internal/stock/memstore"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]orders.Order
}

func (f *fakeOrders) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) MarkDelivered(ctx context.Context, id, cardKey string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	if o.Status != orders.StatusPaid {
		return orders.ErrInvalidTransition
	}
	o.Status, o.CardKey, o.DeliveredAt = orders.StatusDelivered, cardKey, &at
	f.orders[id] = o
	return nil
}

type countingPublisher struct{ n int }

func (p *countingPublisher) Publish(key, value []byte, headers ...kafkago.Header) { p.n++ }

type fixture struct {
	svc    *Service
	ms     *memstore.Store
	orders *fakeOrders
	clk    *fakeClock
	pub    *countingPublisher
}

func newFixture(t *testing.T, keys ...string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ms := memstore.New()
	ms.AddCards("P", keys...)
	clk := &fakeClock{t: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
	st := stock.NewService(ms, zap.NewNop())
	st.Clock = clk
	fo := &fakeOrders{orders: map[string]orders.Order{}}
	pub := &countingPublisher{}
	svc := &Service{
		Orders: fo, Cards: ms, Stock: st, Redis: rdb, Producer: pub,
		ServiceName: "delivery-test", Clock: clk, Log: zap.NewNop(),
	}
	return &fixture{svc: svc, ms: ms, orders: fo, clk: clk, pub: pub}
}

func (fx *fixture) paidOrder(t *testing.T, id string, qty int, reserve bool) {
	t.Helper()
	if reserve {
		_, err := fx.svc.Stock.ReserveUnits(context.Background(), "P", id, qty)
		require.NoError(t, err)
	}
	fx.orders.orders[id] = orders.Order{ID: id, ProductID: "P", Quantity: qty, Status: orders.StatusPaid, CreatedAt: fx.clk.t}
}

func paidMessage(t *testing.T, orderID string) kafkago.Message {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventOrderPaid, "api", orderID, "", orders.OrderPaidPayload{OrderID: orderID})
	require.NoError(t, err)
	return kafkago.Message{Key: orders.PartitionKey(orderID), Value: kafkax.MustMarshal(env)}
}

func TestDeliverSellsReservedCards(t *testing.T) {
	fx := newFixture(t, "a", "b", "c")
	fx.paidOrder(t, "O1", 2, true)

	msg := paidMessage(t, "O1")
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), msg))

	o, _ := fx.orders.GetOrder(context.Background(), "O1")
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, "a\nb", o.CardKey)
	assert.Equal(t, 1, fx.pub.n)

	c, err := fx.svc.Stock.GetStockCounts(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 1, Sold: 2}, c)

	// redelivery event yang sama tidak menjual ulang
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), msg))
	assert.Equal(t, 1, fx.pub.n)
}

func TestDeliverReReservesWhenHoldWasTaken(t *testing.T) {
	fx := newFixture(t, "a", "b", "c", "d")
	fx.paidOrder(t, "O1", 2, true)

	// hold O1 basi lalu diambil O2
	fx.clk.t = fx.clk.t.Add(stock.FreshnessWindow)
	_, err := fx.svc.Stock.ReserveUnits(context.Background(), "P", "O2", 2)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Deliver(context.Background(), "O1", ""))
	o, _ := fx.orders.GetOrder(context.Background(), "O1")
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, "c\nd", o.CardKey)

	for _, card := range fx.ms.Cards("P")[:2] {
		require.NotNil(t, card.ReservedOrderID)
		assert.Equal(t, "O2", *card.ReservedOrderID)
		assert.False(t, card.IsUsed)
	}
}

func TestDeliverOutOfStockLeavesOrderPaid(t *testing.T) {
	fx := newFixture(t, "a", "b")
	fx.paidOrder(t, "O1", 2, true)
	fx.clk.t = fx.clk.t.Add(stock.FreshnessWindow)
	_, err := fx.svc.Stock.ReserveUnits(context.Background(), "P", "O2", 2)
	require.NoError(t, err)

	require.NoError(t, fx.svc.Deliver(context.Background(), "O1", ""))
	o, _ := fx.orders.GetOrder(context.Background(), "O1")
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Zero(t, fx.pub.n)
}

func TestHandleOrderPaidIgnoresOtherEvents(t *testing.T) {
	fx := newFixture(t, "a")
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "api", "O1", "", orders.OrderCreatedPayload{OrderID: "O1"})
	require.NoError(t, err)
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)}))
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), kafkago.Message{Value: []byte("{not json")}))
	assert.Zero(t, fx.pub.n)
}

func TestHandleOrderPaidReleasesClaimOnFailure(t *testing.T) {
	fx := newFixture(t, "a")
	msg := paidMessage(t, "missing")

	require.ErrorIs(t, fx.svc.HandleOrderPaid(context.Background(), msg), orders.ErrNotFound)

	// order muncul belakangan; redelivery harus diproses
	fx.paidOrder(t, "missing", 1, true)
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), msg))
	o, _ := fx.orders.GetOrder(context.Background(), "missing")
	assert.Equal(t, orders.StatusDelivered, o.Status)
}

func TestHandleOrderPaidSkipsByHeader(t *testing.T) {
	fx := newFixture(t, "a")
	fx.paidOrder(t, "O1", 1, true)

	// body order.paid valid, tapi header bilang event lain: tidak diproses
	msg := paidMessage(t, "O1")
	msg.Headers = kafkax.EventHeaders(orders.EventOrderCancelled, 1)
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), msg))
	o, _ := fx.orders.GetOrder(context.Background(), "O1")
	assert.Equal(t, orders.StatusPaid, o.Status)

	msg.Headers = kafkax.EventHeaders(orders.EventOrderPaid, 1)
	require.NoError(t, fx.svc.HandleOrderPaid(context.Background(), msg))
	o, _ = fx.orders.GetOrder(context.Background(), "O1")
	assert.Equal(t, orders.StatusDelivered, o.Status)
}
