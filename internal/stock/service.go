package stock

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"sort"
	"time"
)

type Service struct {
	Store Store
	Clock Clock
	Log   *zap.Logger

	// OnExpired dipanggil dengan order id yang baru saja di-cancel karena expired.
	OnExpired func(ctx context.Context, orderIDs []string)
}

func NewService(store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Store: store, Clock: SystemClock, Log: log}
}

type Reservation struct {
	OrderID    string    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	CardIDs    []int64   `json:"card_ids"`
	ReservedAt time.Time `json:"reserved_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return SystemClock.Now()
	}
	return s.Clock.Now()
}

// GetStockCounts: reconcile product dulu, lalu hitung partisi dengan satu now.
func (s *Service) GetStockCounts(ctx context.Context, productID string) (Counts, error) {
	if err := s.reconcileLazy(ctx, Filter{ProductID: productID}); err != nil {
		return Counts{}, err
	}
	now := s.now()
	var c Counts
	err := s.withSchemaHeal(ctx, "count cards", func() (err error) {
		c, err = s.Store.CountCards(ctx, productID, Cutoff(now))
		return err
	})
	return c, err
}

// ReserveUnits memberi hold qty kartu ke orderID. Gagal dengan ErrOutOfStock
// tanpa mengubah state kalau kandidat kurang.
func (s *Service) ReserveUnits(ctx context.Context, productID, orderID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if err := s.reconcileLazy(ctx, Filter{ProductID: productID}); err != nil {
		return Reservation{}, err
	}

	now := s.now()
	var ids []int64
	err := s.withSchemaHeal(ctx, "reserve cards", func() (err error) {
		ids, err = s.Store.ReserveCards(ctx, productID, orderID, qty, now, Cutoff(now))
		return err
	})
	if err != nil {
		return Reservation{}, err
	}

	// verifikasi ulang: store tanpa update bersyarat bisa over/under-fill
	if len(ids) != qty {
		if len(ids) > 0 {
			if _, rerr := s.Store.ReleaseCards(ctx, orderID, ids...); rerr != nil {
				s.Log.Error("rollback partial reservation",
					zap.String("order_id", orderID), zap.Int("cards", len(ids)), zap.Error(rerr))
				return Reservation{}, fmt.Errorf("rollback partial reservation: %w", rerr)
			}
		}
		s.Log.Info("reservation rejected",
			zap.String("product_id", productID), zap.String("order_id", orderID),
			zap.Int("requested", qty), zap.Int("granted", len(ids)))
		return Reservation{}, ErrOutOfStock
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return Reservation{
		OrderID:    orderID,
		ProductID:  productID,
		CardIDs:    ids,
		ReservedAt: now,
		ExpiresAt:  now.Add(FreshnessWindow),
	}, nil
}

// ReleaseReservation dipakai untuk cancel eksplisit. Kartu sold tidak disentuh.
func (s *Service) ReleaseReservation(ctx context.Context, orderID string) (int64, error) {
	var n int64
	err := s.withSchemaHeal(ctx, "release cards", func() (err error) {
		n, err = s.Store.ReleaseCards(ctx, orderID)
		return err
	})
	return n, err
}

// CancelExpiredOrders meng-cancel order pending yang lewat FreshnessWindow lalu
// melepas kartu mereka. Error release dikembalikan bersama id yang sudah di-cancel.
func (s *Service) CancelExpiredOrders(ctx context.Context, f Filter) ([]string, error) {
	ids, releaseErr, err := s.reconcile(ctx, f)
	if err != nil {
		return nil, err
	}
	return ids, releaseErr
}

func (s *Service) reconcileLazy(ctx context.Context, f Filter) error {
	_, releaseErr, err := s.reconcile(ctx, f)
	if err != nil {
		return fmt.Errorf("reconcile expired: %w", err)
	}
	if releaseErr != nil {
		// order sudah cancelled; kartunya tetap terbaca available setelah stale
		s.Log.Warn("release expired cards", zap.Error(releaseErr))
	}
	return nil
}

func (s *Service) reconcile(ctx context.Context, f Filter) (ids []string, releaseErr, err error) {
	now := s.now()
	err = s.withSchemaHeal(ctx, "cancel expired orders", func() (err error) {
		ids, err = s.Store.CancelExpiredOrders(ctx, f, Cutoff(now))
		return err
	})
	if err != nil || len(ids) == 0 {
		return nil, nil, err
	}

	var errs []error
	for _, id := range ids {
		err := s.withSchemaHeal(ctx, "release expired cards", func() error {
			_, err := s.Store.ReleaseCards(ctx, id)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", id, err))
		}
	}

	s.Log.Info("expired orders cancelled", zap.Strings("order_ids", ids))
	if s.OnExpired != nil {
		s.OnExpired(ctx, ids)
	}
	return ids, errors.Join(errs...), nil
}

// withSchemaHeal: kalau fn gagal karena schema drift, perbaiki schema lalu retry sekali.
func (s *Service) withSchemaHeal(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrSchemaDrift) {
		return err
	}
	s.Log.Warn("schema drift detected, healing", zap.String("op", op), zap.Error(err))
	if herr := s.Store.EnsureSchema(ctx); herr != nil {
		return fmt.Errorf("%s: heal schema: %w", op, herr)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%s after heal: %w", op, err)
	}
	return nil
}
