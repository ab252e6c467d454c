package stock_test

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/ariefcatur/go-cardstore/internal/stock/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T) (*stock.Service, *memstore.Store, *fakeClock) {
	t.Helper()
	ms := memstore.New()
	clk := newFakeClock()
	svc := stock.NewService(ms, zap.NewNop())
	svc.Clock = clk
	return svc, ms, clk
}

func placeOrder(ms *memstore.Store, clk *fakeClock, id, productID string, qty int) {
	ms.AddOrder(memstore.Order{ID: id, ProductID: productID, UserID: "u-" + id, Quantity: qty, CreatedAt: clk.Now()})
}

func TestEndToEndExpiryScenario(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	ms.AddCards("P", "k1", "k2", "k3")

	placeOrder(ms, clk, "O1", "P", 2)
	res, err := svc.ReserveUnits(ctx, "P", "O1", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.CardIDs)
	assert.Equal(t, clk.Now().Add(stock.FreshnessWindow), res.ExpiresAt)

	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 1, Reserved: 2}, c)

	ids, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ids)

	clk.Advance(time.Second)
	placeOrder(ms, clk, "O2", "P", 2)
	_, err = svc.ReserveUnits(ctx, "P", "O2", 2)
	require.ErrorIs(t, err, stock.ErrOutOfStock)

	clk.Advance(stock.FreshnessWindow)
	ids, err = svc.CancelExpiredOrders(ctx, stock.Filter{OrderID: "O1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, ids)

	o1, _ := ms.Order("O1")
	assert.Equal(t, memstore.StatusCancelled, o1.Status)
	for _, card := range ms.Cards("P") {
		assert.Nil(t, card.ReservedOrderID)
		assert.Nil(t, card.ReservedAt)
	}

	c, err = svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 3}, c)
}

func TestOutOfStockDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	svc, ms, _ := newService(t)
	ms.AddCards("P", "a", "b")

	_, err := svc.ReserveUnits(ctx, "P", "O1", 3)
	require.ErrorIs(t, err, stock.ErrOutOfStock)
	for _, card := range ms.Cards("P") {
		assert.Nil(t, card.ReservedOrderID)
	}
}

func TestReserveRejectsInvalidQuantity(t *testing.T) {
	svc, ms, _ := newService(t)
	ms.AddCards("P", "a")
	_, err := svc.ReserveUnits(context.Background(), "P", "O1", 0)
	require.ErrorIs(t, err, stock.ErrInvalidQuantity)
	assert.False(t, errors.Is(err, stock.ErrOutOfStock))
}

func TestStalenessBoundary(t *testing.T) {
	reservedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oid := "O1"
	card := stock.Card{ID: 1, ReservedOrderID: &oid, ReservedAt: &reservedAt}

	assert.Equal(t, stock.StateReserved, card.StateAt(reservedAt))
	assert.Equal(t, stock.StateReserved, card.StateAt(reservedAt.Add(stock.FreshnessWindow-time.Nanosecond)))
	assert.Equal(t, stock.StateAvailable, card.StateAt(reservedAt.Add(stock.FreshnessWindow)))
	assert.Equal(t, stock.StateAvailable, card.StateAt(reservedAt.Add(time.Hour)))

	card.IsUsed = true
	assert.Equal(t, stock.StateSold, card.StateAt(reservedAt))
}

func TestPartitionMatchesPerCardState(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := ms.AddCards("P", "a", "b", "c", "d", "e", "f")

	// reserved di berbagai umur; dua tidak pernah di-reserve
	ms.SetReservedAt(ids[0], base)
	ms.SetReservedAt(ids[1], base.Add(2*time.Minute))
	ms.SetReservedAt(ids[2], base.Add(4*time.Minute))
	_, err := ms.ReserveCards(ctx, "P", "O-sold", 1, base, stock.Cutoff(base))
	require.NoError(t, err)
	_, err = ms.SellCards(ctx, "O-sold", "P", 1, base)
	require.NoError(t, err)

	for off := time.Duration(0); off <= 12*time.Minute; off += 30 * time.Second {
		now := base.Add(off)
		got, err := ms.CountCards(ctx, "P", stock.Cutoff(now))
		require.NoError(t, err)

		var want stock.Counts
		for _, card := range ms.Cards("P") {
			want.Add(card.StateAt(now))
		}
		assert.Equal(t, want, got, "at +%s", off)
		assert.Equal(t, len(ids), got.Total(), "at +%s", off)
	}
}

func TestStaleReservationIsReReservable(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	ms.AddCards("P", "only")

	// O1 tidak tercatat sebagai order pending, jadi reconciler tidak melepasnya
	_, err := svc.ReserveUnits(ctx, "P", "O1", 1)
	require.NoError(t, err)
	_, err = svc.ReserveUnits(ctx, "P", "O2", 1)
	require.ErrorIs(t, err, stock.ErrOutOfStock)

	clk.Advance(stock.FreshnessWindow)
	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 1}, c)

	res, err := svc.ReserveUnits(ctx, "P", "O2", 1)
	require.NoError(t, err)
	card, _ := ms.Card(res.CardIDs[0])
	require.NotNil(t, card.ReservedOrderID)
	assert.Equal(t, "O2", *card.ReservedOrderID)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc, ms, _ := newService(t)
	const stockSize = 7
	keys := make([]string, stockSize)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	ms.AddCards("P", keys...)

	var granted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 40; i++ {
		i := i
		g.Go(func() error {
			qty := 1 + i%3
			_, err := svc.ReserveUnits(ctx, "P", fmt.Sprintf("O%d", i), qty)
			switch {
			case err == nil:
				granted.Add(int64(qty))
			case errors.Is(err, stock.ErrOutOfStock):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, granted.Load(), int64(stockSize))
	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, int(granted.Load()), c.Reserved)
	assert.Equal(t, stockSize, c.Total())
}

func TestReconciliationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	ms.AddCards("P", "a", "b")
	placeOrder(ms, clk, "O1", "P", 1)
	_, err := svc.ReserveUnits(ctx, "P", "O1", 1)
	require.NoError(t, err)

	clk.Advance(stock.FreshnessWindow + time.Second)
	ids, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, ids)
	before := ms.Cards("P")

	ids, err = svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, before, ms.Cards("P"))
}

func TestReconcileFilterNarrowsSelection(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	placeOrder(ms, clk, "A1", "A", 1)
	placeOrder(ms, clk, "B1", "B", 1)
	clk.Advance(stock.FreshnessWindow)

	ids, err := svc.CancelExpiredOrders(ctx, stock.Filter{ProductID: "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, ids)

	ids, err = svc.CancelExpiredOrders(ctx, stock.Filter{UserID: "u-A1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, ids)
}

func TestSoldCardsAreTerminal(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	ms.AddCards("P", "a", "b")
	placeOrder(ms, clk, "O1", "P", 2)
	_, err := svc.ReserveUnits(ctx, "P", "O1", 2)
	require.NoError(t, err)
	keys, err := ms.SellCards(ctx, "O1", "P", 2, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	sold := ms.Cards("P")

	// order masih pending (kondisi abnormal) lalu expired
	clk.Advance(stock.FreshnessWindow * 2)
	ids, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, ids)

	n, err := svc.ReleaseReservation(ctx, "O1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.ReserveUnits(ctx, "P", "O2", 1)
	require.ErrorIs(t, err, stock.ErrOutOfStock)
	assert.Equal(t, sold, ms.Cards("P"))

	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Sold: 2}, c)
}

func TestReleaseReservationOnlyTouchesOwnCards(t *testing.T) {
	ctx := context.Background()
	svc, ms, _ := newService(t)
	ms.AddCards("P", "a", "b", "c")
	_, err := svc.ReserveUnits(ctx, "P", "O1", 1)
	require.NoError(t, err)
	_, err = svc.ReserveUnits(ctx, "P", "O2", 2)
	require.NoError(t, err)

	n, err := svc.ReleaseReservation(ctx, "O2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 2, Reserved: 1}, c)
}

func TestOnExpiredHook(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	var got []string
	svc.OnExpired = func(_ context.Context, ids []string) { got = append(got, ids...) }
	placeOrder(ms, clk, "O1", "P", 1)
	clk.Advance(stock.FreshnessWindow)

	_, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, got)
}

// driftStore gagal dengan ErrSchemaDrift sebanyak drifts kali pada CancelExpiredOrders.
type driftStore struct {
	*memstore.Store
	drifts int
}

func (d *driftStore) CancelExpiredOrders(ctx context.Context, f stock.Filter, cutoff time.Time) ([]string, error) {
	if d.drifts > 0 {
		d.drifts--
		return nil, fmt.Errorf("%w: column reserved_at does not exist", stock.ErrSchemaDrift)
	}
	return d.Store.CancelExpiredOrders(ctx, f, cutoff)
}

func TestSchemaDriftHealsOnce(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	ds := &driftStore{Store: ms, drifts: 1}
	svc := stock.NewService(ds, zap.NewNop())

	_, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, ms.HealCalls)
}

func TestSchemaDriftSecondFailurePropagates(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	ds := &driftStore{Store: ms, drifts: 2}
	svc := stock.NewService(ds, zap.NewNop())

	_, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.ErrorIs(t, err, stock.ErrSchemaDrift)
	assert.Equal(t, 1, ms.HealCalls)
}

func TestStoreUnavailableSurfaces(t *testing.T) {
	svc, ms, _ := newService(t)
	ms.FailNext = fmt.Errorf("%w: dial tcp: connection refused", stock.ErrStoreUnavailable)
	_, err := svc.GetStockCounts(context.Background(), "P")
	require.ErrorIs(t, err, stock.ErrStoreUnavailable)
	assert.Zero(t, ms.HealCalls)
}

// shortStore meniru engine tanpa update bersyarat: selalu hanya dapat satu kartu.
type shortStore struct{ *memstore.Store }

func (s shortStore) ReserveCards(ctx context.Context, productID, orderID string, qty int, now, cutoff time.Time) ([]int64, error) {
	return s.Store.ReserveCards(ctx, productID, orderID, 1, now, cutoff)
}

func TestPartialReservationIsRolledBack(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	ms.AddCards("P", "a", "b", "c")
	svc := stock.NewService(shortStore{ms}, zap.NewNop())

	_, err := svc.ReserveUnits(ctx, "P", "O1", 2)
	require.ErrorIs(t, err, stock.ErrOutOfStock)

	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 3}, c)
}

func TestOrderExpiryUsesSameTieBreakAsCards(t *testing.T) {
	ctx := context.Background()
	svc, ms, clk := newService(t)
	ms.AddCards("P", "a")
	placeOrder(ms, clk, "O1", "P", 1)
	_, err := svc.ReserveUnits(ctx, "P", "O1", 1)
	require.NoError(t, err)

	clk.Advance(stock.FreshnessWindow - time.Nanosecond)
	ids, err := svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ids)
	c, err := svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Reserved: 1}, c)

	// tepat W: kartu stale dan order expired pada saat yang sama
	clk.Advance(time.Nanosecond)
	ids, err = svc.CancelExpiredOrders(ctx, stock.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"O1"}, ids)
	c, err = svc.GetStockCounts(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, stock.Counts{Available: 1}, c)
}
