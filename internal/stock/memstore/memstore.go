// Package memstore adalah stock.Store in-memory. Satu mutex = satu statement,
// jadi semantik atomisitasnya sama dengan satu UPDATE bersyarat di postgres.
package memstore

import (
	"context"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"sort"
	"sync"
	"time"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

type Order struct {
	ID        string
	ProductID string
	UserID    string
	Quantity  int
	Status    string
	CreatedAt time.Time
}

type Store struct {
	mu     sync.Mutex
	nextID int64
	cards  []*stock.Card // selalu urut id ascending
	orders map[string]*Order

	// FailNext, kalau diisi, dikembalikan oleh panggilan store berikutnya (sekali).
	FailNext error
	// HealCalls menghitung EnsureSchema.
	HealCalls int
}

var _ stock.Store = (*Store)(nil)

func New() *Store {
	return &Store{orders: map[string]*Order{}}
}

func (s *Store) AddCards(productID string, keys ...string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(keys))
	for _, k := range keys {
		s.nextID++
		s.cards = append(s.cards, &stock.Card{ID: s.nextID, ProductID: productID, CardKey: k, CreatedAt: time.Now().UTC()})
		ids = append(ids, s.nextID)
	}
	return ids
}

func (s *Store) AddOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == "" {
		o.Status = StatusPending
	}
	s.orders[o.ID] = &o
}

// SetOrderStatus: update bersyarat from -> to, seperti UPDATE ... WHERE status = from.
func (s *Store) SetOrderStatus(id, from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return false
	}
	o.Status = to
	return true
}

func (s *Store) Order(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (s *Store) Card(id int64) (stock.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.ID == id {
			return *c, true
		}
	}
	return stock.Card{}, false
}

func (s *Store) Cards(productID string) []stock.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stock.Card
	for _, c := range s.cards {
		if c.ProductID == productID {
			out = append(out, *c)
		}
	}
	return out
}

// SetReservedAt memundurkan/majukan reserved_at, untuk simulasi umur reservasi.
func (s *Store) SetReservedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.ID == id {
			c.ReservedAt = &at
		}
	}
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func available(c *stock.Card, cutoff time.Time) bool {
	return !c.IsUsed && (c.ReservedAt == nil || !c.ReservedAt.After(cutoff))
}

func (s *Store) CountCards(ctx context.Context, productID string, cutoff time.Time) (stock.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return stock.Counts{}, err
	}
	var out stock.Counts
	for _, c := range s.cards {
		if c.ProductID != productID {
			continue
		}
		switch {
		case c.IsUsed:
			out.Sold++
		case available(c, cutoff):
			out.Available++
		default:
			out.Reserved++
		}
	}
	return out, nil
}

func (s *Store) ReserveCards(ctx context.Context, productID, orderID string, qty int, now, cutoff time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var picked []*stock.Card
	for _, c := range s.cards {
		if len(picked) == qty {
			break
		}
		if c.ProductID == productID && available(c, cutoff) {
			picked = append(picked, c)
		}
	}
	if len(picked) < qty {
		return nil, nil
	}
	ids := make([]int64, 0, qty)
	for _, c := range picked {
		oid, at := orderID, now
		c.ReservedOrderID, c.ReservedAt = &oid, &at
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (s *Store) ReleaseCards(ctx context.Context, orderID string, cardIDs ...int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	only := map[int64]bool{}
	for _, id := range cardIDs {
		only[id] = true
	}
	var n int64
	for _, c := range s.cards {
		if c.IsUsed || c.ReservedOrderID == nil || *c.ReservedOrderID != orderID {
			continue
		}
		if len(only) > 0 && !only[c.ID] {
			continue
		}
		c.ReservedOrderID, c.ReservedAt = nil, nil
		n++
	}
	return n, nil
}

func (s *Store) CancelExpiredOrders(ctx context.Context, f stock.Filter, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var ids []string
	for _, o := range s.orders {
		if o.Status != StatusPending || o.CreatedAt.After(cutoff) {
			continue
		}
		if (f.ProductID != "" && o.ProductID != f.ProductID) ||
			(f.UserID != "" && o.UserID != f.UserID) ||
			(f.OrderID != "" && o.ID != f.OrderID) {
			continue
		}
		o.Status = StatusCancelled
		ids = append(ids, o.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.HealCalls++
	return nil
}

// SellCards menandai kartu yang di-hold orderID sebagai sold (terminal),
// hanya kalau jumlahnya tepat qty.
func (s *Store) SellCards(ctx context.Context, orderID, productID string, qty int, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var held []*stock.Card
	for _, c := range s.cards {
		if len(held) == qty {
			break
		}
		if c.ProductID == productID && !c.IsUsed && c.ReservedOrderID != nil && *c.ReservedOrderID == orderID {
			held = append(held, c)
		}
	}
	if len(held) < qty {
		return nil, nil
	}
	keys := make([]string, 0, qty)
	for _, c := range held {
		at := now
		c.IsUsed, c.UsedAt = true, &at
		keys = append(keys, c.CardKey)
	}
	return keys, nil
}
