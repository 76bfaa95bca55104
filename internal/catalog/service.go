// Package catalog serves the product and stock snapshot used to populate
// selectable products and to check stock before a quote is submitted.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/backend"
	"github.com/covasa/backoffice/internal/common"
	"github.com/covasa/backoffice/internal/obs"
)

const (
	productsKey = "catalog:products"
	stockKey    = "catalog:stock"
)

// Source is the subset of the backend client the catalog reads from.
type Source interface {
	ListProducts(ctx context.Context) ([]backend.Product, error)
	ListStock(ctx context.Context) ([]backend.StockLevel, error)
}

// Item is a product joined with its available stock.
type Item struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	UnitCostNet int64  `json:"unitCostNet"`
	Unit        string `json:"unit,omitempty"`
	Available   int64  `json:"available"`
	InStock     bool   `json:"inStock"`
}

// ListParams filters the product listing.
type ListParams struct {
	Query       string
	InStockOnly bool
	Page        int
	Limit       int
}

// ListResult is a page of items.
type ListResult struct {
	Items []Item
	Total int
	Page  int
	Limit int
}

// Service reads through the Redis cache to the backend.
type Service struct {
	source       Source
	cache        *Cache
	logger       zerolog.Logger
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source       Source
	Cache        *Cache
	Logger       zerolog.Logger
	DefaultLimit int
	MaxLimit     int
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: source is required")
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 200
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 || defaultLimit > maxLimit {
		defaultLimit = min(50, maxLimit)
	}
	return &Service{
		source:       cfg.Source,
		cache:        cfg.Cache,
		logger:       cfg.Logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// Products returns the product catalog, served from cache when fresh.
func (s *Service) Products(ctx context.Context) ([]backend.Product, error) {
	return readThrough(ctx, s, "products", productsKey, false, s.source.ListProducts)
}

// Stock returns stock levels. fresh bypasses the cache and refuses stale
// fallbacks; the result still refreshes the cached copy.
func (s *Service) Stock(ctx context.Context, fresh bool) ([]backend.StockLevel, error) {
	return readThrough(ctx, s, "stock", stockKey, fresh, s.source.ListStock)
}

// StockIndex maps product id to available units, summed across warehouses.
func (s *Service) StockIndex(ctx context.Context, fresh bool) (map[string]int64, error) {
	levels, err := s.Stock(ctx, fresh)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(levels))
	for _, lvl := range levels {
		index[lvl.ProductID] += lvl.Available
	}
	return index, nil
}

// Refresh drops the cached snapshots so the next read goes to the backend.
// Last-known-good copies are kept.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.cache.Invalidate(ctx, productsKey, stockKey); err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}
	return nil
}

// ParseListParams normalises raw query values.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{Page: 1, Limit: s.defaultLimit}
	params.Query = strings.TrimSpace(values.Get("q"))
	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		params.Limit = min(limit, s.maxLimit)
	}
	if v := strings.TrimSpace(values.Get("inStock")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return params, badRequest("inStock", "inStock must be true or false", err)
		}
		params.InStockOnly = b
	}
	return params, nil
}

// List returns active products joined with stock, filtered and paginated.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, error) {
	products, err := s.Products(ctx)
	if err != nil {
		return ListResult{}, err
	}
	stock, err := s.StockIndex(ctx, false)
	if err != nil {
		return ListResult{}, err
	}

	query := strings.ToLower(params.Query)
	items := make([]Item, 0, len(products))
	for _, p := range products {
		if !p.Active {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.Code), query) {
			continue
		}
		available := stock[p.ID]
		if params.InStockOnly && available <= 0 {
			continue
		}
		items = append(items, Item{
			ID:          p.ID,
			Code:        p.Code,
			Name:        p.Name,
			UnitCostNet: p.UnitCostNet,
			Unit:        p.Unit,
			Available:   available,
			InStock:     available > 0,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name) })

	page, limit := max(params.Page, 1), min(params.Limit, s.maxLimit)
	if limit < 1 {
		limit = s.defaultLimit
	}
	total := len(items)
	start := total
	// pages past the end stay empty without multiplying page by limit
	if page-1 < (total+limit-1)/limit {
		start = (page - 1) * limit
	}
	end := min(start+limit, total)
	return ListResult{Items: items[start:end], Total: total, Page: page, Limit: limit}, nil
}

func readThrough[T any](ctx context.Context, s *Service, kind, key string, fresh bool, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if !fresh {
		var cached []T
		_, ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
		}
		if ok {
			countCache(kind, "hit")
			return cached, nil
		}
		countCache(kind, "miss")
	}

	rows, err := fetch(ctx)
	if err != nil {
		if !fresh && errors.Is(err, backend.ErrUnavailable) {
			var last []T
			if fetchedAt, ok, _ := s.cache.Stale(ctx, key, &last); ok {
				countCache(kind, "stale")
				s.logger.Warn().Err(err).
					Str("key", key).
					Dur("age", time.Since(fetchedAt)).
					Msg("catalog_serving_stale")
				return last, nil
			}
		}
		return nil, fmt.Errorf("catalog %s: %w", kind, err)
	}
	if err := s.cache.Put(ctx, key, rows, time.Now()); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
	}
	return rows, nil
}

func countCache(kind, outcome string) {
	if obs.CatalogCacheTotal != nil {
		obs.CatalogCacheTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func badRequest(field, message string, err error) error {
	return common.BadRequest(message, err).WithDetails(map[string]string{"field": field})
}
