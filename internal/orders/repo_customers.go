package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"strings"
	"time"
)

var ErrAlreadyCheckedIn = errors.New("already checked in today")

const (
	defaultCustomerPageSize = 20
	maxCustomerPageSize     = 100
)

// RecordLogin upsert user yang login. Username kosong tidak menimpa yang lama.
func (r *Repo) RecordLogin(ctx context.Context, userID, username string, at time.Time) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO login_users(user_id, username, created_at, last_login_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			username = COALESCE(EXCLUDED.username, login_users.username),
			last_login_at = EXCLUDED.last_login_at`,
		userID, nullIfEmpty(username), at)
	return storeErr("record login", err)
}

// VisitorCount = jumlah user unik yang pernah login.
func (r *Repo) VisitorCount(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRow(ctx, `SELECT count(*) FROM login_users`).Scan(&n)
	return n, storeErr("visitor count", err)
}

// IsBlocked: user yang belum pernah login dianggap tidak diblokir.
func (r *Repo) IsBlocked(ctx context.Context, userID string) (bool, error) {
	var blocked bool
	err := r.DB.QueryRow(ctx, `SELECT is_blocked FROM login_users WHERE user_id = $1`, userID).Scan(&blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return blocked, storeErr("is blocked", err)
}

func customerPaging(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultCustomerPageSize
	}
	if pageSize > maxCustomerPageSize {
		pageSize = maxCustomerPageSize
	}
	return page, pageSize
}

// ListCustomers: urut last login terbaru; q mencari di username / user_id.
func (r *Repo) ListCustomers(ctx context.Context, q string, page, pageSize int) (CustomerPage, error) {
	page, pageSize = customerPaging(page, pageSize)
	out := CustomerPage{Items: []Customer{}, Page: page, PageSize: pageSize}

	where := "TRUE"
	var args []any
	if q = strings.TrimSpace(q); q != "" {
		args = append(args, "%"+likeEscaper.Replace(q)+"%")
		where = `(COALESCE(u.username, '') ILIKE $1 OR u.user_id ILIKE $1)`
	}
	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM login_users u WHERE `+where, args...).Scan(&out.Total); err != nil {
		return CustomerPage{}, storeErr("count customers", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.DB.Query(ctx, `
		SELECT u.user_id, COALESCE(u.username, ''), u.points, u.is_blocked,
			count(o.order_id) FILTER (WHERE o.status IN ('paid', 'delivered', 'refunded')),
			u.last_login_at, u.created_at
		FROM login_users u
		LEFT JOIN orders o ON o.user_id = u.user_id
		WHERE `+where+`
		GROUP BY u.user_id
		ORDER BY u.last_login_at DESC, u.user_id
		`+fmt.Sprintf(`LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return CustomerPage{}, storeErr("list customers", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Customer, error) {
		var c Customer
		err := row.Scan(&c.UserID, &c.Username, &c.Points, &c.IsBlocked, &c.OrderCount, &c.LastLoginAt, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return CustomerPage{}, storeErr("list customers", err)
	}
	out.Items = append(out.Items, items...)
	return out, nil
}

func (r *Repo) SetPoints(ctx context.Context, userID string, points int) error {
	return r.updateCustomer(ctx, "set points", `points = $2`, userID, points)
}

func (r *Repo) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	return r.updateCustomer(ctx, "set blocked", `is_blocked = $2`, userID, blocked)
}

func (r *Repo) updateCustomer(ctx context.Context, op, set, userID string, v any) error {
	tag, err := r.DB.Exec(ctx, `UPDATE login_users SET `+set+` WHERE user_id = $1`, userID, v)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

// CheckIn: satu statement, insert check-in harian + tambah poin. Return total poin.
// Sudah check-in hari itu -> ErrAlreadyCheckedIn; user belum pernah login -> ErrNotFound.
func (r *Repo) CheckIn(ctx context.Context, userID string, day time.Time, reward int) (int, error) {
	var points int
	err := r.DB.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO daily_checkins(user_id, day, reward) VALUES ($1, $2::date, $3)
			ON CONFLICT (user_id, day) DO NOTHING
			RETURNING user_id
		)
		UPDATE login_users SET points = points + $3
		WHERE user_id IN (SELECT user_id FROM ins)
		RETURNING points`, userID, day, reward).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAlreadyCheckedIn
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return 0, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return points, storeErr("check in", err)
}
