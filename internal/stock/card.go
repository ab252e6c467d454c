package stock

import (
	"context"
	"time"
)

type State int

const (
	StateAvailable State = iota
	StateReserved
	StateSold
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateReserved:
		return "reserved"
	case StateSold:
		return "sold"
	}
	return "unknown"
}

// Card = satu unit stok (key/secret) milik satu product.
type Card struct {
	ID              int64
	ProductID       string
	CardKey         string
	IsUsed          bool
	ReservedOrderID *string
	ReservedAt      *time.Time
	UsedAt          *time.Time
	CreatedAt       time.Time
}

// StateAt mengklasifikasikan kartu pada waktu now. Stale-reserved dihitung available.
func (c Card) StateAt(now time.Time) State {
	if c.IsUsed {
		return StateSold
	}
	if IsFresh(c.ReservedAt, now) {
		return StateReserved
	}
	return StateAvailable
}

type Counts struct {
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Sold      int `json:"sold"`
}

func (c *Counts) Add(s State) {
	switch s {
	case StateAvailable:
		c.Available++
	case StateReserved:
		c.Reserved++
	case StateSold:
		c.Sold++
	}
}

func (c Counts) Total() int { return c.Available + c.Reserved + c.Sold }

// Filter untuk CancelExpiredOrders; field kosong = tidak difilter.
type Filter struct {
	ProductID string `json:"product_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

// Store adalah ledger kartu + tabel order. Setiap method harus berupa satu
// statement atomik; tidak ada asumsi transaksi multi-statement.
type Store interface {
	// CountCards menghitung partisi kartu product dengan cutoff yang sama.
	CountCards(ctx context.Context, productID string, cutoff time.Time) (Counts, error)

	// ReserveCards menandai tepat qty kartu available (id ascending) ke orderID
	// dengan reserved_at = now, atau tidak sama sekali. Return id yang ter-update.
	ReserveCards(ctx context.Context, productID, orderID string, qty int, now, cutoff time.Time) ([]int64, error)

	// ReleaseCards mengosongkan reservasi kartu non-sold milik orderID.
	// Kalau cardIDs diisi, hanya kartu tsb yang dilepas.
	ReleaseCards(ctx context.Context, orderID string, cardIDs ...int64) (int64, error)

	// CancelExpiredOrders: pending & created_at <= cutoff -> cancelled, return order id.
	CancelExpiredOrders(ctx context.Context, f Filter, cutoff time.Time) ([]string, error)

	// EnsureSchema menambah tabel/kolom yang hilang (idempotent).
	EnsureSchema(ctx context.Context) error
}
