package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

type Repo struct{ DB *pgxpool.Pool }

var (
	ErrAlreadyExists     = errors.New("order already exists")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const orderColumns = `order_id, product_id, product_name, amount, COALESCE(email, ''), status,
	COALESCE(trade_no, ''), COALESCE(card_key, ''), COALESCE(user_id, ''), COALESCE(username, ''),
	quantity, paid_at, delivered_at, created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		amount string
		status string
	)
	err := row.Scan(&o.ID, &o.ProductID, &o.ProductName, &amount, &o.Email, &status,
		&o.TradeNo, &o.CardKey, &o.UserID, &o.Username,
		&o.Quantity, &o.PaidAt, &o.DeliveredAt, &o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return Order{}, fmt.Errorf("order %s amount %q: %w", o.ID, amount, err)
	}
	o.Status = Status(status)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateOrder insert order baru dengan status pending.
func (r *Repo) CreateOrder(ctx context.Context, o Order) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO orders(order_id, product_id, product_name, amount, email, status, user_id, username, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, $9)`,
		o.ID, o.ProductID, o.ProductName, o.Amount.String(), nullIfEmpty(o.Email),
		nullIfEmpty(o.UserID), nullIfEmpty(o.Username), o.Quantity, o.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return storeErr("create order", err)
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, storeErr("get order", err)
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE order_id = $1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storeErr("get order status", err)
	}
	return Status(s), nil
}

// UpdateStatus: update bersyarat from -> to. 0 row -> ErrNotFound / ErrInvalidTransition.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, from, to Status) error {
	return r.transition(ctx, orderID, from, to, ``)
}

func (r *Repo) MarkPaid(ctx context.Context, orderID, tradeNo string, at time.Time) error {
	return r.transition(ctx, orderID, StatusPending, StatusPaid, `trade_no = $4, paid_at = $5`, nullIfEmpty(tradeNo), at)
}

func (r *Repo) MarkDelivered(ctx context.Context, orderID, cardKey string, at time.Time) error {
	return r.transition(ctx, orderID, StatusPaid, StatusDelivered, `card_key = $4, delivered_at = $5`, cardKey, at)
}

func (r *Repo) transition(ctx context.Context, orderID string, from, to Status, set string, args ...any) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	q := `UPDATE orders SET status = $3`
	if set != "" {
		q += `, ` + set
	}
	q += ` WHERE order_id = $1 AND status = $2`

	ct, err := r.DB.Exec(ctx, q, append([]any{orderID, string(from), string(to)}, args...)...)
	if err != nil {
		return storeErr("update order status", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	cur, err := r.GetOrderStatus(ctx, orderID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order %s is %s, want %s", ErrInvalidTransition, orderID, cur, from)
}

func (r *Repo) PendingOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 AND status = 'pending' ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, storeErr("pending orders", err)
	}
	return collectOrders(rows)
}

func (r *Repo) RecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, storeErr("recent orders", err)
	}
	return collectOrders(rows)
}

// DashboardStats: jumlah & revenue order delivered, berdasarkan paid_at.
func (r *Repo) DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error) {
	today, week, month := StatsWindows(now)
	row := r.DB.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE paid_at >= $1),
			COALESCE(sum(amount::numeric) FILTER (WHERE paid_at >= $1), 0)::text,
			count(*) FILTER (WHERE paid_at >= $2),
			COALESCE(sum(amount::numeric) FILTER (WHERE paid_at >= $2), 0)::text,
			count(*) FILTER (WHERE paid_at >= $3),
			COALESCE(sum(amount::numeric) FILTER (WHERE paid_at >= $3), 0)::text,
			count(*),
			COALESCE(sum(amount::numeric), 0)::text
		FROM orders WHERE status = 'delivered'`, today, week, month)

	var (
		st   DashboardStats
		revs [4]string
	)
	if err := row.Scan(&st.Today.Count, &revs[0], &st.Week.Count, &revs[1],
		&st.Month.Count, &revs[2], &st.Total.Count, &revs[3]); err != nil {
		return DashboardStats{}, storeErr("dashboard stats", err)
	}
	periods := []*PeriodStats{&st.Today, &st.Week, &st.Month, &st.Total}
	for i, p := range periods {
		d, err := decimal.NewFromString(revs[i])
		if err != nil {
			return DashboardStats{}, fmt.Errorf("revenue %q: %w", revs[i], err)
		}
		p.Revenue = d
	}
	return st, nil
}

const productStockSelect = `
	SELECT p.id, p.name, COALESCE(p.description, ''), p.price, COALESCE(p.category, ''),
		p.is_active, p.sort_order, p.purchase_limit, p.created_at,
		count(c.id) FILTER (WHERE ` + availablePredicateC + `),
		count(c.id) FILTER (WHERE ` + reservedPredicateC + `),
		count(c.id) FILTER (WHERE c.is_used)
	FROM products p
	LEFT JOIN cards c ON c.product_id = p.id`

func scanProductStock(row pgx.Row) (ProductStock, error) {
	var (
		p     ProductStock
		price string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Category,
		&p.IsActive, &p.SortOrder, &p.PurchaseLimit, &p.CreatedAt,
		&p.Stock.Available, &p.Stock.Reserved, &p.Stock.Sold)
	if err != nil {
		return ProductStock{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return ProductStock{}, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	return p, nil
}

// ListProducts: product + stok dengan cutoff yang sama dengan stock.Service.
func (r *Repo) ListProducts(ctx context.Context, cutoff time.Time, activeOnly bool) ([]ProductStock, error) {
	rows, err := r.DB.Query(ctx, productStockSelect+`
		WHERE ($2 = FALSE OR p.is_active)
		GROUP BY p.id
		ORDER BY p.sort_order ASC, p.created_at DESC`, cutoff, activeOnly)
	if err != nil {
		return nil, storeErr("list products", err)
	}
	defer rows.Close()

	var out []ProductStock
	for rows.Next() {
		p, err := scanProductStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, storeErr("list products", rows.Err())
}

func (r *Repo) GetProduct(ctx context.Context, productID string, cutoff time.Time) (ProductStock, error) {
	p, err := scanProductStock(r.DB.QueryRow(ctx, productStockSelect+`
		WHERE p.id = $2
		GROUP BY p.id`, cutoff, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, ErrNotFound
	}
	return p, storeErr("get product", err)
}

func (r *Repo) SaveProduct(ctx context.Context, p Product) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products(id, name, description, price, category, is_active, sort_order, purchase_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
			category = EXCLUDED.category, is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order, purchase_limit = EXCLUDED.purchase_limit`,
		p.ID, p.Name, nullIfEmpty(p.Description), p.Price.String(), nullIfEmpty(p.Category),
		p.IsActive, p.SortOrder, p.PurchaseLimit)
	return storeErr("save product", err)
}

// AddCards provisioning stok; key kosong diabaikan. Return jumlah kartu yang masuk.
func (r *Repo) AddCards(ctx context.Context, productID string, keys []string) (int, error) {
	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			rows = append(rows, []any{productID, k})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.DB.CopyFrom(ctx, pgx.Identifier{"cards"}, []string{"product_id", "card_key"}, pgx.CopyFromRows(rows))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return 0, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return int(n), storeErr("add cards", err)
}
