// Package catalog caches the product list and answers browsing queries:
// lookup by id or slug, search, category filter and sort order.
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"storefront/internal/backend"
	"storefront/internal/model"
)

// Categories are the shelf names offered for filtering. "all" disables the
// filter.
var Categories = []string{"all", "yellow", "red", "spring", "sweet"}

// Sort is a product ordering.
type Sort string

const (
	SortPopular   Sort = "popular" // backend order
	SortPriceAsc  Sort = "price-asc"
	SortPriceDesc Sort = "price-desc"
	SortName      Sort = "name"
)

// ParseSort validates a sort name. An empty name is SortPopular.
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortPopular:
		return SortPopular, nil
	case SortPriceAsc:
		return SortPriceAsc, nil
	case SortPriceDesc:
		return SortPriceDesc, nil
	case SortName:
		return SortName, nil
	default:
		return "", model.NewValidationError("sort", fmt.Sprintf("unknown sort %q", s))
	}
}

// Query selects and orders products.
type Query struct {
	Search   string `json:"search,omitempty"`
	Category string `json:"category,omitempty"`
	Sort     Sort   `json:"sort,omitempty"`
}

// Catalog is the in-memory product cache. Safe for concurrent use.
type Catalog struct {
	api    backend.API
	logger *slog.Logger

	mu       sync.RWMutex
	products []model.Product
	byID     map[model.ID]model.Product
}

// New creates an empty Catalog. Call Load to fill it.
func New(api backend.API, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Catalog{api: api, logger: logger, byID: map[model.ID]model.Product{}}
}

// Load fetches the product list. On failure the previous list is kept (empty
// on first load) and the error is returned for display; callers may go on
// browsing the cache.
func (c *Catalog) Load(ctx context.Context) ([]model.Product, error) {
	products, err := c.api.Products(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "loading products", slog.String("error", err.Error()))
		return c.Products(), fmt.Errorf("loading products: %w", err)
	}
	c.Replace(products)
	return c.Products(), nil
}

// Replace swaps the cached product list.
func (c *Catalog) Replace(products []model.Product) {
	byID := make(map[model.ID]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	c.mu.Lock()
	c.products = slices.Clone(products)
	c.byID = byID
	c.mu.Unlock()
}

// Products returns a copy of the cached list in backend order.
func (c *Catalog) Products() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.products == nil {
		return []model.Product{}
	}
	return slices.Clone(c.products)
}

// Product looks up a cached product by id.
func (c *Catalog) Product(id model.ID) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Price is the catalog price of a product; it satisfies reconcile.PriceFunc.
func (c *Catalog) Price(id model.ID) model.Amount {
	p, ok := c.Product(id)
	if !ok {
		return model.Amount{}
	}
	return p.Price
}

// BySlug finds a product by slug, asking the backend when the cache does not
// have it.
func (c *Catalog) BySlug(ctx context.Context, slug string) (*model.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, model.NewValidationError("slug", "must not be empty")
	}

	c.mu.RLock()
	for _, p := range c.products {
		if p.Slug == slug {
			c.mu.RUnlock()
			return &p, nil
		}
	}
	c.mu.RUnlock()

	p, err := c.api.ProductBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("product %q: %w", slug, err)
	}
	return p, nil
}

// Search applies q to the cached list.
func (c *Catalog) Search(q Query) []model.Product {
	return Filter(c.Products(), q)
}

// Filter returns the products matching q, ordered by q.Sort. The input is
// not modified.
//
// The category filter matches the category, or the name when the product
// has no category. Search matches name and description. Both are
// case-insensitive substring matches.
func Filter(products []model.Product, q Query) []model.Product {
	out := make([]model.Product, 0, len(products))

	category := strings.ToLower(strings.TrimSpace(q.Category))
	search := strings.ToLower(strings.TrimSpace(q.Search))

	for _, p := range products {
		if category != "" && category != "all" {
			field := p.Category
			if field == "" {
				field = p.Name
			}
			if !strings.Contains(strings.ToLower(field), category) {
				continue
			}
		}
		if search != "" {
			text := strings.ToLower(p.Name + " " + p.Description)
			if !strings.Contains(text, search) {
				continue
			}
		}
		out = append(out, p)
	}

	switch q.Sort {
	case SortPriceAsc:
		slices.SortStableFunc(out, func(a, b model.Product) int {
			return cmp.Compare(a.Price.Or(0), b.Price.Or(0))
		})
	case SortPriceDesc:
		slices.SortStableFunc(out, func(a, b model.Product) int {
			return cmp.Compare(b.Price.Or(0), a.Price.Or(0))
		})
	case SortName:
		slices.SortStableFunc(out, func(a, b model.Product) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
	}
	return out
}
