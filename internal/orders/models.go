package orders

import (
	"github.com/ariefcatur/go-cardstore/internal/stock"
	"github.com/shopspring/decimal"
	"time"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category,omitempty"`
	IsActive      bool            `json:"is_active"`
	SortOrder     int             `json:"sort_order"`
	PurchaseLimit *int            `json:"purchase_limit,omitempty"` // nil = tanpa batas
	CreatedAt     time.Time       `json:"created_at"`
}

// ProductStock = product + partisi stok pada satu cutoff.
type ProductStock struct {
	Product
	Stock stock.Counts `json:"stock"`
}

type Order struct {
	ID          string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Amount      decimal.Decimal `json:"amount"`
	Email       string          `json:"email,omitempty"`
	Status      Status          `json:"status"`
	TradeNo     string          `json:"trade_no,omitempty"`
	CardKey     string          `json:"card_key,omitempty"` // newline-joined saat delivered
	UserID      string          `json:"user_id,omitempty"`
	Username    string          `json:"username,omitempty"`
	Quantity    int             `json:"quantity"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ExpiresAt: batas order pending sebelum di-cancel reconciler.
func (o Order) ExpiresAt() time.Time { return o.CreatedAt.Add(stock.FreshnessWindow) }

type PeriodStats struct {
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DashboardStats struct {
	Today    PeriodStats `json:"today"`
	Week     PeriodStats `json:"week"`
	Month    PeriodStats `json:"month"`
	Total    PeriodStats `json:"total"`
	Visitors int         `json:"visitors"` // jumlah user yang pernah login
}

type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	SortOrder int    `json:"sort_order"`
}

// Sort mode pencarian storefront.
const (
	SortDefault   = "default"
	SortPriceAsc  = "priceAsc"
	SortPriceDesc = "priceDesc"
	SortStockDesc = "stockDesc"
	SortSoldDesc  = "soldDesc"
)

type ProductSearch struct {
	Query    string `json:"q,omitempty"`
	Category string `json:"category,omitempty"` // "" / "all" = semua
	Sort     string `json:"sort,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type ProductPage struct {
	Items    []ProductStock `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type Customer struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Points      int       `json:"points"`
	IsBlocked   bool      `json:"is_blocked"`
	OrderCount  int       `json:"order_count"` // paid/delivered/refunded
	LastLoginAt time.Time `json:"last_login_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type CustomerPage struct {
	Items    []Customer `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}
