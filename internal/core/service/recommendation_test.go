package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func priced(p domain.Product, price string) domain.Product {
	p.Price = decimal.RequireFromString(price)
	return p
}

func TestGetSimilarProducts_SameTypeRanksFirst(t *testing.T) {
	current := priced(product("1", "crystal", "healing"), "50")
	course := priced(product("2", "course", "healing"), "50")
	crystal := priced(product("3", "crystal", "healing"), "50")

	r := NewRecommender(staticCatalog{snap: snapshotOf(current, course, crystal)}, fixedRandom{value: 0.5})

	got, err := r.GetSimilarProducts(context.Background(), current, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-3", "p-2"}, handles(got))
}

func TestGetSimilarProducts_ExcludesCurrentAndLimits(t *testing.T) {
	current := product("1", "crystal")
	r := NewRecommender(staticCatalog{snap: snapshotOf(
		current, product("2", "crystal"), product("3", "crystal"), product("4", "crystal"),
	)}, fixedRandom{})

	got, err := r.GetSimilarProducts(context.Background(), current, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.False(t, p.SameAs(current))
	}
}

func TestSimilarityScore(t *testing.T) {
	current := priced(product("1", "Crystal", "a", "b"), "100")
	current.Vendor = "Earth"

	c := priced(product("2", "crystal", "a", "b", "c"), "110")
	c.Vendor = "earth"
	c.AvailableForSale = true

	// type 10, vendor 3, tags 2*2, price within 20% 4, available 1
	assert.Equal(t, 22.0, SimilarityScore(current, c))

	far := priced(product("3", "course"), "140")
	assert.Equal(t, 2.0, SimilarityScore(current, far))

	unpriced := product("4", "course")
	assert.Equal(t, 0.0, SimilarityScore(product("5", ""), unpriced))
}

func TestComplementScore(t *testing.T) {
	current := priced(product("1", "crystal", "healing"), "100")

	c := priced(product("2", "course", "healing", "Bestseller", "hot", "new arrival"), "120")
	// different type 3, bestseller 5, hot 4, new 2, price within 30% 2, one shared tag 3
	assert.Equal(t, 19.0, ComplementScore(current, c))

	same := priced(product("3", "crystal"), "500")
	assert.Equal(t, 0.0, ComplementScore(current, same))
}

func TestGetForYouProducts_PrefersComplements(t *testing.T) {
	current := product("1", "crystal", "healing")
	twin := product("2", "crystal")
	bestseller := product("3", "course", "bestseller")

	r := NewRecommender(staticCatalog{snap: snapshotOf(current, twin, bestseller)}, fixedRandom{})

	got, err := r.GetForYouProducts(context.Background(), current, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-3", "p-2"}, handles(got))
}

func TestGetRecommendedProducts_SharedTagsStable(t *testing.T) {
	current := product("1", "", "a", "b", "c")
	snap := snapshotOf(
		current,
		product("2", "", "a"),
		product("3", "", "a", "b"),
		product("4", "", "z"),
		product("5", "", "c"),
		product("6", "", "a", "b", "c"),
	)
	r := NewRecommender(staticCatalog{snap: snap}, fixedRandom{})

	got, err := r.GetRecommendedProducts(context.Background(), current, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-6", "p-3", "p-2", "p-5", "p-4"}, handles(got))

	got, err = r.GetRecommendedProducts(context.Background(), current, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-6", "p-3"}, handles(got))
}

func TestGetRecommendedProducts_FillsLimitWithoutOverlap(t *testing.T) {
	current := product("1", "", "a")
	snap := snapshotOf(
		current,
		product("2", "", "x"),
		product("3", "", "a"),
		product("4", "", "y"),
		product("5", "", "z"),
	)
	r := NewRecommender(staticCatalog{snap: snap}, fixedRandom{})

	got, err := r.GetRecommendedProducts(context.Background(), current, 3, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-3", "p-2", "p-4"}, handles(got))
}

func TestGetRecommendedProducts_NoOverlap(t *testing.T) {
	current := product("1", "", "a")
	snap := snapshotOf(current, product("2", "", "x"), product("3", "", "y"))
	r := NewRecommender(staticCatalog{snap: snap}, fixedRandom{})

	got, err := r.GetRecommendedProducts(context.Background(), current, 0, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.GetRecommendedProducts(context.Background(), current, 5, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p-2", "p-3"}, handles(got))
}

func TestRecommender_EmptyCatalog(t *testing.T) {
	r := NewRecommender(staticCatalog{}, fixedRandom{})
	current := product("1", "crystal")

	similar, err := r.GetSimilarProducts(context.Background(), current, 4)
	require.NoError(t, err)
	assert.Empty(t, similar)

	recommended, err := r.GetRecommendedProducts(context.Background(), current, 4, true)
	require.NoError(t, err)
	assert.Empty(t, recommended)
}
