package stock

import "errors"

var (
	// ErrOutOfStock bukan fault: caller menampilkan "sold out".
	ErrOutOfStock = errors.New("out of stock")

	// ErrSchemaDrift: tabel/kolom yang dibutuhkan tidak ada.
	ErrSchemaDrift = errors.New("schema drift")

	// ErrStoreUnavailable: database tidak bisa dihubungi.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidQuantity = errors.New("invalid quantity")
)
