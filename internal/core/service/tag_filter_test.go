package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func product(id, productType string, tags ...string) domain.Product {
	return domain.Product{
		ID:          domain.ToGlobalID(id, domain.TypeProduct),
		Handle:      "p-" + id,
		Title:       "Product " + id,
		ProductType: productType,
		Tags:        domain.NewTagSet(tags...),
	}
}

func snapshotOf(products ...domain.Product) *domain.CatalogSnapshot {
	return &domain.CatalogSnapshot{Products: products}
}

func handles(products []domain.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Handle
	}
	return out
}

func TestFilterByTags_ExactMatchOnly(t *testing.T) {
	snap := snapshotOf(
		product("1", "course", "Tier 10"),
		product("2", "course", "tier 1"),
		product("3", "course", "Tier 100"),
	)
	f := NewTagFilter(staticCatalog{snap: snap}, fixedRandom{})

	got, err := f.FilterByTags(context.Background(), []string{" TIER 1 "}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-2"}, handles(got))
}

func TestFilterByTags_AnyQueryTagMatches(t *testing.T) {
	snap := snapshotOf(
		product("1", "", "crystal"),
		product("2", "", "course"),
		product("3", "", "herb"),
	)
	f := NewTagFilter(staticCatalog{snap: snap}, fixedRandom{})

	got, err := f.FilterByTags(context.Background(), []string{"herb", "crystal"}, 0, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-1", "p-3"}, handles(got))
}

func TestFilterByTags_Limit(t *testing.T) {
	snap := snapshotOf(product("1", "", "a"), product("2", "", "a"), product("3", "", "a"))
	f := NewTagFilter(staticCatalog{snap: snap}, fixedRandom{})

	got, err := f.FilterByTags(context.Background(), []string{"a"}, 2, false)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFilterByTags_Fallback(t *testing.T) {
	snap := snapshotOf(product("1", "", "a"), product("2", "", "b"))
	f := NewTagFilter(staticCatalog{snap: snap}, fixedRandom{})

	got, err := f.FilterByTags(context.Background(), []string{"zzz"}, 0, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.FilterByTags(context.Background(), []string{"zzz"}, 1, true)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.FilterByTags(context.Background(), nil, 0, true)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFilterByTags_ShufflesMatches(t *testing.T) {
	snap := snapshotOf(product("1", "", "a"), product("2", "", "a"), product("3", "", "a"))
	f := NewTagFilter(staticCatalog{snap: snap}, reverseRandom{})

	got, err := f.FilterByTags(context.Background(), []string{"a"}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-3", "p-2", "p-1"}, handles(got))
	assert.Equal(t, "p-1", snap.Products[0].Handle)
}

func TestFilterByTags_CatalogErrorStillFilters(t *testing.T) {
	boom := errors.New("backend down")
	snap := snapshotOf(product("1", "", "a"))
	f := NewTagFilter(staticCatalog{snap: snap, err: boom}, fixedRandom{})

	got, err := f.FilterByTags(context.Background(), []string{"a"}, 0, false)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, got, 1)
}

func TestFilterSnapshot_Empty(t *testing.T) {
	f := NewTagFilter(nil, fixedRandom{})
	assert.Empty(t, f.FilterSnapshot(nil, []string{"a"}, 5, true))
}

// reverseRandom reverses instead of shuffling.
type reverseRandom struct{}

func (reverseRandom) Float64() float64 { return 0 }
func (reverseRandom) Shuffle(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}
