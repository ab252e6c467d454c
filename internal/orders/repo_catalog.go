package orders

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5"
	"strings"
	"time"
)

const (
	defaultSearchPageSize = 24
	maxSearchPageSize     = 60
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// NormalizeSearch: trim input, paging default 24 (maks 60), sort tak dikenal -> default.
func NormalizeSearch(p ProductSearch) ProductSearch {
	p.Query = strings.TrimSpace(p.Query)
	p.Category = strings.TrimSpace(p.Category)
	if p.Category == "all" {
		p.Category = ""
	}
	switch p.Sort = strings.TrimSpace(p.Sort); p.Sort {
	case SortPriceAsc, SortPriceDesc, SortStockDesc, SortSoldDesc:
	default:
		p.Sort = SortDefault
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultSearchPageSize
	}
	if p.PageSize > maxSearchPageSize {
		p.PageSize = maxSearchPageSize
	}
	return p
}

// searchFilter membangun WHERE untuk product aktif. first = nomor placeholder pertama.
func searchFilter(p ProductSearch, first int) (string, []any) {
	where := []string{`p.is_active`}
	var args []any
	if p.Category != "" {
		args = append(args, p.Category)
		where = append(where, fmt.Sprintf(`p.category = $%d`, first+len(args)-1))
	}
	if p.Query != "" {
		args = append(args, "%"+likeEscaper.Replace(p.Query)+"%")
		n := first + len(args) - 1
		where = append(where, fmt.Sprintf(`(p.name ILIKE $%d OR COALESCE(p.description, '') ILIKE $%d)`, n, n))
	}
	return strings.Join(where, " AND "), args
}

// searchOrderBy: stockDesc/soldDesc memakai predikat partisi yang sama dengan
// kolom stok, jadi urutan konsisten dengan angka yang ditampilkan.
func searchOrderBy(sort string) string {
	const tail = `p.sort_order ASC, p.created_at DESC`
	switch sort {
	case SortPriceAsc:
		return `p.price::numeric ASC, ` + tail
	case SortPriceDesc:
		return `p.price::numeric DESC, ` + tail
	case SortStockDesc:
		return `count(c.id) FILTER (WHERE ` + availablePredicateC + `) DESC, ` + tail
	case SortSoldDesc:
		return `count(c.id) FILTER (WHERE c.is_used) DESC, ` + tail
	}
	return tail
}

// SearchProducts: pencarian storefront (hanya product aktif) dengan stok pada cutoff.
func (r *Repo) SearchProducts(ctx context.Context, cutoff time.Time, p ProductSearch) (ProductPage, error) {
	p = NormalizeSearch(p)
	page := ProductPage{Items: []ProductStock{}, Page: p.Page, PageSize: p.PageSize}

	where, fargs := searchFilter(p, 1)
	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM products p WHERE `+where, fargs...).Scan(&page.Total); err != nil {
		return ProductPage{}, storeErr("count products", err)
	}

	where, fargs = searchFilter(p, 2)
	args := append([]any{cutoff}, fargs...)
	args = append(args, p.PageSize, (p.Page-1)*p.PageSize)
	q := productStockSelect + `
		WHERE ` + where + `
		GROUP BY p.id
		ORDER BY ` + searchOrderBy(p.Sort) + fmt.Sprintf(`
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return ProductPage{}, storeErr("search products", err)
	}
	defer rows.Close()
	for rows.Next() {
		ps, err := scanProductStock(rows)
		if err != nil {
			return ProductPage{}, err
		}
		page.Items = append(page.Items, ps)
	}
	return page, storeErr("search products", rows.Err())
}

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, COALESCE(icon, ''), sort_order
		FROM categories ORDER BY sort_order ASC, name ASC`)
	if err != nil {
		return nil, storeErr("list categories", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.Icon, &c.SortOrder)
		return c, err
	})
	return out, storeErr("list categories", err)
}

// SaveCategory upsert berdasarkan nama. Return id kategori.
func (r *Repo) SaveCategory(ctx context.Context, c Category) (int64, error) {
	var id int64
	err := r.DB.QueryRow(ctx, `
		INSERT INTO categories(name, icon, sort_order) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			icon = EXCLUDED.icon, sort_order = EXCLUDED.sort_order, updated_at = now()
		RETURNING id`, c.Name, nullIfEmpty(c.Icon), c.SortOrder).Scan(&id)
	return id, storeErr("save category", err)
}
