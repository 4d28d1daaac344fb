package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

const twoProducts = `{"success":true,"products":[
	{"id":"1","handle":"amethyst","title":"Amethyst","productType":"crystal","tags":["Healing"]},
	{"id":"2","handle":"reiki-course","title":"Reiki","productType":"course","tags":"course, online"}
]}`

func newTestCache(gw *mockGateway, clock *fakeClock) *CatalogCache {
	return NewCatalogCache(gw, WithCatalogClock(clock.Now), WithCatalogTTL(300*time.Second))
}

func TestCatalogCache_ServesWithinTTL(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionGetProducts, twoProducts)
	clock := newFakeClock()
	cache := newTestCache(gw, clock)

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Products, 2)
	assert.Equal(t, 1, gw.count(domain.ActionGetProducts))

	clock.Advance(299 * time.Second)
	again, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, gw.count(domain.ActionGetProducts))

	clock.Advance(2 * time.Second)
	refreshed, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, refreshed)
	assert.Equal(t, 2, gw.count(domain.ActionGetProducts))
}

func TestCatalogCache_RequestsConfiguredPageSize(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionGetProducts, twoProducts)
	cache := NewCatalogCache(gw, WithCatalogPageSize(50))

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, map[string]any{"first": 50}, gw.calls[0].Payload)
}

func TestCatalogCache_Invalidate(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionGetProducts, twoProducts)
	cache := newTestCache(gw, newFakeClock())

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.count(domain.ActionGetProducts))
}

func TestCatalogCache_EmptySnapshotRefetches(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionGetProducts, `{"success":true,"products":[]}`)
	cache := newTestCache(gw, newFakeClock())

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.count(domain.ActionGetProducts))
}

func TestCatalogCache_FailureKeepsPreviousSnapshot(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionGetProducts, twoProducts)
	clock := newFakeClock()
	cache := newTestCache(gw, clock)

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	boom := &domain.GatewayError{Action: domain.ActionGetProducts, Attempts: 3, Transient: true}
	gw.fail(domain.ActionGetProducts, boom)

	stale, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientNetwork))
	assert.Same(t, first, stale)
}

func TestCatalogCache_FailureWithoutSnapshotReturnsEmpty(t *testing.T) {
	gw := newMockGateway().fail(domain.ActionGetProducts, &domain.GatewayError{Action: domain.ActionGetProducts, Attempts: 1})
	cache := newTestCache(gw, newFakeClock())

	snap, err := cache.Get(context.Background())
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Empty())
}

func TestCatalogCache_ConcurrentGetsShareOneFetch(t *testing.T) {
	gw := &slowGateway{mockGateway: newMockGateway().respond(domain.ActionGetProducts, twoProducts), release: make(chan struct{})}
	cache := NewCatalogCache(gw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.Get(context.Background())
			assert.NoError(t, err)
			assert.Len(t, snap.Products, 2)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	assert.Equal(t, 1, gw.count(domain.ActionGetProducts))
}

type slowGateway struct {
	*mockGateway
	release chan struct{}
}

func (g *slowGateway) Call(ctx context.Context, action domain.Action, payload any) (domain.Response, error) {
	<-g.release
	return g.mockGateway.Call(ctx, action, payload)
}

func TestCatalogCache_ProductByHandle(t *testing.T) {
	gw := newMockGateway().
		respond(domain.ActionGetProducts, twoProducts).
		respond(domain.ActionGetProductByHandle, `{"success":true,"product":{"id":"9","handle":"rose-quartz","title":"Rose Quartz"}}`)
	cache := newTestCache(gw, newFakeClock())
	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	p, err := cache.ProductByHandle(context.Background(), "amethyst")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Product/1", p.ID)
	assert.Equal(t, 0, gw.count(domain.ActionGetProductByHandle))

	p, err = cache.ProductByHandle(context.Background(), "rose-quartz")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Product/9", p.ID)
	assert.Equal(t, 1, gw.count(domain.ActionGetProductByHandle))
}

func TestCatalogCache_ProductByIDNotFound(t *testing.T) {
	gw := newMockGateway().fail(domain.ActionGetProductByID, &domain.GatewayError{Action: domain.ActionGetProductByID, Status: 404, Attempts: 1})
	cache := newTestCache(gw, newFakeClock())

	_, err := cache.ProductByID(context.Background(), "77")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	gw.respond(domain.ActionGetProductByID, `{"success":true,"product":null}`)
	_, err = cache.ProductByID(context.Background(), "77")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCatalogCache_Search(t *testing.T) {
	gw := newMockGateway().respond(domain.ActionSearch, twoProducts)
	cache := newTestCache(gw, newFakeClock())

	_, err := cache.Search(context.Background(), "   ", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, gw.total())

	got, err := cache.Search(context.Background(), "reiki", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, map[string]any{"query": "reiki", "first": 1}, gw.calls[0].Payload)
}
