package orders

import (
	"github.com/stretchr/testify/assert"
	"strings"
	"testing"
)

func TestNormalizeSearch(t *testing.T) {
	p := NormalizeSearch(ProductSearch{Query: "  vip ", Category: "all", Sort: "bogus", PageSize: 500})
	assert.Equal(t, "vip", p.Query)
	assert.Equal(t, "", p.Category)
	assert.Equal(t, SortDefault, p.Sort)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 60, p.PageSize)

	p = NormalizeSearch(ProductSearch{Category: "game", Sort: SortSoldDesc, Page: 3})
	assert.Equal(t, "game", p.Category)
	assert.Equal(t, SortSoldDesc, p.Sort)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 24, p.PageSize)
}

func TestSearchFilterPlaceholders(t *testing.T) {
	where, args := searchFilter(ProductSearch{}, 2)
	assert.Equal(t, "p.is_active", where)
	assert.Empty(t, args)

	where, args = searchFilter(ProductSearch{Category: "game", Query: "50%_off"}, 2)
	assert.Equal(t, "p.is_active AND p.category = $2 AND (p.name ILIKE $3 OR COALESCE(p.description, '') ILIKE $3)", where)
	assert.Equal(t, []any{"game", `%50\%\_off%`}, args)

	// query count tanpa cutoff mulai dari $1
	where, args = searchFilter(ProductSearch{Query: "x"}, 1)
	assert.Contains(t, where, "ILIKE $1")
	assert.Len(t, args, 1)
}

func TestSearchOrderByUsesStockPredicates(t *testing.T) {
	assert.Equal(t, "p.sort_order ASC, p.created_at DESC", searchOrderBy(SortDefault))
	assert.True(t, strings.HasPrefix(searchOrderBy(SortPriceAsc), "p.price::numeric ASC"))
	assert.True(t, strings.HasPrefix(searchOrderBy(SortPriceDesc), "p.price::numeric DESC"))

	// urutan stok harus pakai predikat yang sama dengan kolom available
	assert.Contains(t, searchOrderBy(SortStockDesc), availablePredicateC)
	assert.Contains(t, productStockSelect, availablePredicateC)
	assert.Contains(t, searchOrderBy(SortSoldDesc), "c.is_used")
}

func TestCustomerPaging(t *testing.T) {
	p, n := customerPaging(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, 20, n)
	p, n = customerPaging(4, 1000)
	assert.Equal(t, 4, p)
	assert.Equal(t, 100, n)
}
