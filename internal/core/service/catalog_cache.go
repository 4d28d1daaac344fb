package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

const (
	DefaultCatalogTTL      = 5 * time.Minute
	DefaultCatalogPageSize = 100
)

// SnapshotSource is anything that can hand out the current catalog.
type SnapshotSource interface {
	Get(ctx context.Context) (*domain.CatalogSnapshot, error)
}

type CatalogCache struct {
	gateway  port.Gateway
	now      Clock
	ttl      time.Duration
	pageSize int
	logger   *zap.Logger

	snapshot atomic.Pointer[domain.CatalogSnapshot]
	group    singleflight.Group
}

type CatalogOption func(*CatalogCache)

func WithCatalogClock(c Clock) CatalogOption {
	return func(cc *CatalogCache) { cc.now = c }
}

func WithCatalogTTL(d time.Duration) CatalogOption {
	return func(cc *CatalogCache) {
		if d > 0 {
			cc.ttl = d
		}
	}
}

func WithCatalogPageSize(n int) CatalogOption {
	return func(cc *CatalogCache) {
		if n > 0 {
			cc.pageSize = n
		}
	}
}

func WithCatalogLogger(l *zap.Logger) CatalogOption {
	return func(cc *CatalogCache) { cc.logger = logging.OrNop(l) }
}

func NewCatalogCache(gateway port.Gateway, opts ...CatalogOption) *CatalogCache {
	c := &CatalogCache{
		gateway:  gateway,
		now:      systemClock,
		ttl:      DefaultCatalogTTL,
		pageSize: DefaultCatalogPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current snapshot, refetching when it is missing, empty or
// older than the TTL. On a failed refetch the previous snapshot (or an empty
// one when there is none) is returned together with the error.
func (c *CatalogCache) Get(ctx context.Context) (*domain.CatalogSnapshot, error) {
	cur := c.snapshot.Load()
	if !cur.Empty() && cur.FreshAt(c.now(), c.ttl) {
		metrics.RecordCatalogLookup("hit")
		return cur, nil
	}

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		metrics.RecordCatalogLookup("error")
		if prev := c.snapshot.Load(); prev != nil {
			return prev, err
		}
		return &domain.CatalogSnapshot{CapturedAt: c.now()}, err
	}

	metrics.RecordCatalogLookup("refresh")
	return v.(*domain.CatalogSnapshot), nil
}

// Invalidate drops the snapshot so the next Get refetches.
func (c *CatalogCache) Invalidate() {
	c.snapshot.Store(nil)
	c.logger.Info("catalog invalidated")
}

// Warm refreshes the snapshot if it is stale. Used by the scheduler.
func (c *CatalogCache) Warm(ctx context.Context) error {
	_, err := c.Get(ctx)
	return err
}

func (c *CatalogCache) refresh(ctx context.Context) (*domain.CatalogSnapshot, error) {
	resp, err := c.gateway.Call(ctx, domain.ActionGetProducts, map[string]any{"first": c.pageSize})
	if err != nil {
		c.logger.Warn("catalog refresh failed", zap.Error(err))
		return nil, fmt.Errorf("refresh catalog: %w", err)
	}

	products := ParseProducts(resp.Body, "products")
	if len(products) > c.pageSize {
		products = products[:c.pageSize]
	}

	snap := &domain.CatalogSnapshot{Products: products, CapturedAt: c.now()}
	c.snapshot.Store(snap)
	c.logger.Debug("catalog refreshed", zap.Int("products", len(products)))
	return snap, nil
}

// ProductByHandle serves from the snapshot when it has the product, otherwise
// asks the backend directly.
func (c *CatalogCache) ProductByHandle(ctx context.Context, handle string) (domain.Product, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return domain.Product{}, domain.ErrMissingID
	}
	if p, ok := c.lookup(ctx, func(p domain.Product) bool { return p.Handle == handle }); ok {
		return p, nil
	}
	return c.fetchOne(ctx, domain.ActionGetProductByHandle, map[string]string{"handle": handle})
}

func (c *CatalogCache) ProductByID(ctx context.Context, id string) (domain.Product, error) {
	gid := domain.ToGlobalID(id, domain.TypeProduct)
	if gid == "" {
		return domain.Product{}, domain.ErrMissingID
	}
	if p, ok := c.lookup(ctx, func(p domain.Product) bool { return p.ID == gid }); ok {
		return p, nil
	}
	return c.fetchOne(ctx, domain.ActionGetProductByID, map[string]string{"id": gid})
}

// Search is always answered by the backend.
func (c *CatalogCache) Search(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", domain.ErrValidation)
	}
	if limit <= 0 || limit > c.pageSize {
		limit = c.pageSize
	}
	resp, err := c.gateway.Call(ctx, domain.ActionSearch, map[string]any{"query": query, "first": limit})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return truncate(ParseProducts(resp.Body, "products"), limit), nil
}

// lookup searches the current snapshot, refreshing it first when stale. A
// failed refresh just falls through to the direct fetch.
func (c *CatalogCache) lookup(ctx context.Context, match func(domain.Product) bool) (domain.Product, bool) {
	snap, _ := c.Get(ctx)
	for _, p := range snap.Products {
		if match(p) {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (c *CatalogCache) fetchOne(ctx context.Context, action domain.Action, payload any) (domain.Product, error) {
	resp, err := c.gateway.Call(ctx, action, payload)
	if err != nil {
		if errors.Is(err, domain.ErrRemoteRejection) {
			var gerr *domain.GatewayError
			if errors.As(err, &gerr) && gerr.Status == 404 {
				return domain.Product{}, domain.ErrProductNotFound
			}
		}
		return domain.Product{}, fmt.Errorf("%s: %w", action, err)
	}
	p, ok := ParseProduct(resp.Body, "product")
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}
