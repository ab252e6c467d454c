package postgres

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Setiap step harus idempotent (IF NOT EXISTS) supaya Heal boleh menjalankan ulang semuanya.
var migrations = []string{
	// 1: tabel dasar
	`
	CREATE TABLE IF NOT EXISTS products (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		description    TEXT,
		price          TEXT NOT NULL,
		category       TEXT,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order     INTEGER NOT NULL DEFAULT 0,
		purchase_limit INTEGER,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS cards (
		id         BIGSERIAL PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		card_key   TEXT NOT NULL,
		is_used    BOOLEAN NOT NULL DEFAULT FALSE,
		used_at    TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS orders (
		order_id     TEXT PRIMARY KEY,
		product_id   TEXT NOT NULL,
		product_name TEXT NOT NULL,
		amount       TEXT NOT NULL,
		email        TEXT,
		status       TEXT NOT NULL DEFAULT 'pending',
		trade_no     TEXT,
		card_key     TEXT,
		paid_at      TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		user_id      TEXT,
		username     TEXT,
		quantity     INTEGER NOT NULL DEFAULT 1,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`,
	// 2: kolom reservasi kartu
	`
	ALTER TABLE cards ADD COLUMN IF NOT EXISTS reserved_order_id TEXT;
	ALTER TABLE cards ADD COLUMN IF NOT EXISTS reserved_at TIMESTAMPTZ;
	CREATE INDEX IF NOT EXISTS cards_product_idx ON cards(product_id, is_used, id);
	CREATE INDEX IF NOT EXISTS cards_reserved_order_idx ON cards(reserved_order_id);
	CREATE INDEX IF NOT EXISTS orders_pending_idx ON orders(status, created_at);
	`,
	// 3: kategori, customer (login_users) & check-in harian
	`
	CREATE TABLE IF NOT EXISTS categories (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		icon       TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS categories_name_uq ON categories(name);
	CREATE TABLE IF NOT EXISTS login_users (
		user_id       TEXT PRIMARY KEY,
		username      TEXT,
		points        INTEGER NOT NULL DEFAULT 0,
		is_blocked    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	ALTER TABLE login_users ADD COLUMN IF NOT EXISTS points INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE login_users ADD COLUMN IF NOT EXISTS is_blocked BOOLEAN NOT NULL DEFAULT FALSE;
	CREATE TABLE IF NOT EXISTS daily_checkins (
		user_id    TEXT NOT NULL REFERENCES login_users(user_id) ON DELETE CASCADE,
		day        DATE NOT NULL,
		reward     INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, day)
	);
	INSERT INTO login_users(user_id, username)
		SELECT user_id, MAX(username) FROM orders
		WHERE user_id IS NOT NULL AND user_id <> ''
		GROUP BY user_id
	ON CONFLICT (user_id) DO NOTHING;
	`,
}

// Migrate menerapkan step yang belum tercatat di schema_version. Return versi terakhir.
func Migrate(ctx context.Context, db *pgxpool.Pool) (int, error) {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return 0, err
	}
	var current int
	if err := db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return 0, err
	}

	for v := current + 1; v <= len(migrations); v++ {
		tx, err := db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return current, err
		}
		if _, err := tx.Exec(ctx, migrations[v-1]); err != nil {
			_ = tx.Rollback(ctx)
			return current, err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version(version) VALUES ($1) ON CONFLICT DO NOTHING`, v); err != nil {
			_ = tx.Rollback(ctx)
			return current, err
		}
		if err := tx.Commit(ctx); err != nil {
			return current, err
		}
		current = v
	}
	return current, nil
}

// Heal menjalankan ulang semua step tanpa melihat schema_version, untuk kolom
// yang hilang walau versinya tercatat sudah up to date.
func Heal(ctx context.Context, db *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m); err != nil {
			return err
		}
	}
	_, err := Migrate(ctx, db)
	return err
}

func Version() int { return len(migrations) }
