package orders

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-cardstore/internal/postgres"
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"sort"
	"time"
)

// Predikat partisi. $1 selalu cutoff (stock.Cutoff(now)); reserved_at <= cutoff = stale.
const (
	availablePredicate  = `NOT is_used AND (reserved_at IS NULL OR reserved_at <= $1)`
	reservedPredicate   = `NOT is_used AND reserved_at > $1`
	availablePredicateC = `NOT c.is_used AND (c.reserved_at IS NULL OR c.reserved_at <= $1)`
	reservedPredicateC  = `NOT c.is_used AND c.reserved_at > $1`
)

// CardRepo: ledger kartu di postgres. Setiap method = satu statement, tanpa BEGIN.
type CardRepo struct {
	DB *pgxpool.Pool
}

var _ stock.Store = (*CardRepo)(nil)

// storeErr memetakan error pgx ke taksonomi stock.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case postgres.IsUndefined(err):
		return fmt.Errorf("%s: %w: %v", op, stock.ErrSchemaDrift, err)
	case postgres.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, stock.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *CardRepo) CountCards(ctx context.Context, productID string, cutoff time.Time) (stock.Counts, error) {
	var c stock.Counts
	err := r.DB.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE `+availablePredicate+`),
			count(*) FILTER (WHERE `+reservedPredicate+`),
			count(*) FILTER (WHERE is_used)
		FROM cards WHERE product_id = $2`, cutoff, productID).Scan(&c.Available, &c.Reserved, &c.Sold)
	return c, storeErr("count cards", err)
}

// ReserveCards: pilih + tandai dalam satu statement. Count check di WHERE membuat
// update all-or-nothing; SKIP LOCKED mencegah dua request mengambil baris yang sama.
func (r *CardRepo) ReserveCards(ctx context.Context, productID, orderID string, qty int, now, cutoff time.Time) ([]int64, error) {
	rows, err := r.DB.Query(ctx, `
		WITH candidates AS (
			SELECT id FROM cards
			WHERE product_id = $2 AND `+availablePredicate+`
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE cards SET reserved_order_id = $3, reserved_at = $5
		WHERE id IN (SELECT id FROM candidates)
		  AND (SELECT count(*) FROM candidates) = $4
		RETURNING id`, cutoff, productID, orderID, qty, now)
	if err != nil {
		return nil, storeErr("reserve cards", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storeErr("reserve cards", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *CardRepo) ReleaseCards(ctx context.Context, orderID string, cardIDs ...int64) (int64, error) {
	q := `UPDATE cards SET reserved_order_id = NULL, reserved_at = NULL
		WHERE reserved_order_id = $1 AND NOT is_used`
	args := []any{orderID}
	if len(cardIDs) > 0 {
		q += ` AND id = ANY($2)`
		args = append(args, cardIDs)
	}
	ct, err := r.DB.Exec(ctx, q, args...)
	if err != nil {
		return 0, storeErr("release cards", err)
	}
	return ct.RowsAffected(), nil
}

func (r *CardRepo) CancelExpiredOrders(ctx context.Context, f stock.Filter, cutoff time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE orders SET status = 'cancelled'
		WHERE status = 'pending'
		  AND created_at <= $1
		  AND ($2::text IS NULL OR product_id = $2)
		  AND ($3::text IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR order_id = $4)
		RETURNING order_id`,
		cutoff, nullIfEmpty(f.ProductID), nullIfEmpty(f.UserID), nullIfEmpty(f.OrderID))
	if err != nil {
		return nil, storeErr("cancel expired orders", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("cancel expired orders", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *CardRepo) EnsureSchema(ctx context.Context) error {
	return storeErr("heal schema", postgres.Heal(ctx, r.DB))
}

// SellCards menandai qty kartu yang di-hold orderID sebagai sold. Count check
// sama dengan ReserveCards: kalau hold kurang, tidak ada yang terjual.
func (r *CardRepo) SellCards(ctx context.Context, orderID, productID string, qty int, now time.Time) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		WITH held AS (
			SELECT id FROM cards
			WHERE reserved_order_id = $1 AND product_id = $2 AND NOT is_used
			ORDER BY id
			LIMIT $3
			FOR UPDATE
		)
		UPDATE cards SET is_used = TRUE, used_at = $4
		WHERE id IN (SELECT id FROM held)
		  AND (SELECT count(*) FROM held) = $3
		RETURNING id, card_key`, orderID, productID, qty, now)
	if err != nil {
		return nil, storeErr("sell cards", err)
	}
	type sold struct {
		ID  int64
		Key string
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sold, error) {
		var s sold
		err := row.Scan(&s.ID, &s.Key)
		return s, err
	})
	if err != nil {
		return nil, storeErr("sell cards", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	keys := make([]string, len(out))
	for i, s := range out {
		keys[i] = s.Key
	}
	return keys, nil
}
