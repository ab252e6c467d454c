package postgres

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5/pgconn"
	"net"
)

const (
	codeUndefinedColumn = "42703"
	codeUndefinedTable  = "42P01"
)

// IsUndefined: query gagal karena tabel atau kolom tidak ada (schema drift).
func IsUndefined(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUndefinedColumn || pgErr.Code == codeUndefinedTable
}

// IsUnavailable: server tidak bisa dihubungi / koneksi putus.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
