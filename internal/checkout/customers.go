package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/orders"
	"go.uber.org/zap"
	"strings"
	"time"
)

var errCustomersDisabled = errors.New("customer store not configured")

func (s *Service) customers() (CustomerStore, error) {
	if s.Customers == nil {
		return nil, errCustomersDisabled
	}
	return s.Customers, nil
}

// RecordLogin dipanggil auth gateway setiap user login.
func (s *Service) RecordLogin(ctx context.Context, userID, username string) error {
	cs, err := s.customers()
	if err != nil {
		return err
	}
	if userID = strings.TrimSpace(userID); userID == "" {
		return fmt.Errorf("%w: user_id required", ErrInvalidInput)
	}
	return cs.RecordLogin(ctx, userID, strings.TrimSpace(username), s.now())
}

func (s *Service) ListCustomers(ctx context.Context, q string, page, pageSize int) (orders.CustomerPage, error) {
	cs, err := s.customers()
	if err != nil {
		return orders.CustomerPage{}, err
	}
	return cs.ListCustomers(ctx, q, page, pageSize)
}

func (s *Service) SetPoints(ctx context.Context, userID string, points int) error {
	cs, err := s.customers()
	if err != nil {
		return err
	}
	if points < 0 {
		return fmt.Errorf("%w: negative points", ErrInvalidInput)
	}
	return cs.SetPoints(ctx, userID, points)
}

// SetBlocked: user yang diblokir tidak bisa PlaceOrder. Order yang sudah ada tidak disentuh.
func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	cs, err := s.customers()
	if err != nil {
		return err
	}
	if err := cs.SetBlocked(ctx, userID, blocked); err != nil {
		return err
	}
	s.Log.Info("customer block changed", zap.String("user_id", userID), zap.Bool("blocked", blocked))
	return nil
}

// CheckIn: sekali per hari kalender UTC. Return total poin setelah reward.
func (s *Service) CheckIn(ctx context.Context, userID string) (int, error) {
	cs, err := s.customers()
	if err != nil {
		return 0, err
	}
	if s.CheckinReward <= 0 {
		return 0, fmt.Errorf("%w: check-in disabled", ErrInvalidInput)
	}
	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return cs.CheckIn(ctx, userID, day, s.CheckinReward)
}
