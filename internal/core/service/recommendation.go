package service

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

var (
	bestsellerTags = []string{"bestseller", "best-seller", "best seller"}
	hotTags        = []string{"hot-product", "hot product", "hot"}
	newArrivalTags = []string{"new-arrival", "new arrival", "new"}

	pct20 = decimal.RequireFromString("0.2")
	pct30 = decimal.RequireFromString("0.3")
	pct50 = decimal.RequireFromString("0.5")
)

// Recommender ranks catalog products relative to a current product.
type Recommender struct {
	catalog SnapshotSource
	rand    Random
}

func NewRecommender(catalog SnapshotSource, rnd Random) *Recommender {
	return &Recommender{catalog: catalog, rand: rnd}
}

type scored struct {
	product domain.Product
	score   float64
}

// GetSimilarProducts favors same type, then vendor, tags and price.
func (r *Recommender) GetSimilarProducts(ctx context.Context, current domain.Product, limit int) ([]domain.Product, error) {
	snap, err := r.catalog.Get(ctx)
	return r.rank(snap, current, limit, func(c domain.Product) float64 {
		return SimilarityScore(current, c) + r.rand.Float64()
	}), err
}

// GetForYouProducts favors complementary products over near duplicates.
func (r *Recommender) GetForYouProducts(ctx context.Context, current domain.Product, limit int) ([]domain.Product, error) {
	snap, err := r.catalog.Get(ctx)
	return r.rank(snap, current, limit, func(c domain.Product) float64 {
		return ComplementScore(current, c) + 2*r.rand.Float64()
	}), err
}

// GetRecommendedProducts ranks by shared tag count; ties keep catalog order,
// so products without overlap fill the tail. Without any overlap it returns a
// random sample when fallbackToRandom is set.
func (r *Recommender) GetRecommendedProducts(ctx context.Context, current domain.Product, limit int, fallbackToRandom bool) ([]domain.Product, error) {
	snap, err := r.catalog.Get(ctx)
	if snap.Empty() {
		return []domain.Product{}, err
	}

	var candidates []scored
	overlap := false
	for _, p := range snap.Products {
		if p.SameAs(current) {
			continue
		}
		s := scored{product: p, score: float64(current.Tags.Shared(p.Tags))}
		candidates = append(candidates, s)
		overlap = overlap || s.score > 0
	}

	if !overlap {
		if !fallbackToRandom {
			return []domain.Product{}, err
		}
		return truncate(products(shuffled(r.rand, candidates)), limit), err
	}

	sortByScore(candidates)
	return truncate(products(candidates), limit), err
}

func (r *Recommender) rank(snap *domain.CatalogSnapshot, current domain.Product, limit int, score func(domain.Product) float64) []domain.Product {
	if snap.Empty() {
		return []domain.Product{}
	}
	list := make([]scored, 0, len(snap.Products))
	for _, p := range snap.Products {
		if p.SameAs(current) {
			continue
		}
		list = append(list, scored{product: p, score: score(p)})
	}
	sortByScore(list)
	return truncate(products(list), limit)
}

// SimilarityScore is the deterministic part of the similar-products score.
func SimilarityScore(current, c domain.Product) float64 {
	score := 0.0
	if sameFold(current.ProductType, c.ProductType) {
		score += 10
	}
	if sameFold(current.Vendor, c.Vendor) {
		score += 3
	}
	score += 2 * float64(current.Tags.Shared(c.Tags))

	if ratio, ok := priceDelta(current.Price, c.Price); ok {
		switch {
		case ratio.LessThanOrEqual(pct20):
			score += 4
		case ratio.LessThanOrEqual(pct50):
			score += 2
		}
	}
	if c.AvailableForSale {
		score++
	}
	return score
}

// ComplementScore is the deterministic part of the for-you score.
func ComplementScore(current, c domain.Product) float64 {
	score := 0.0
	if !sameFold(current.ProductType, c.ProductType) {
		score += 3
	}
	if c.Tags.HasAny(bestsellerTags...) {
		score += 5
	}
	if c.Tags.HasAny(hotTags...) {
		score += 4
	}
	if c.Tags.HasAny(newArrivalTags...) {
		score += 2
	}
	if ratio, ok := priceDelta(current.Price, c.Price); ok && ratio.LessThanOrEqual(pct30) {
		score += 2
	}
	if shared := current.Tags.Shared(c.Tags); shared == 1 || shared == 2 {
		score += 3
	}
	return score
}

// priceDelta returns |candidate - base| / base; ok is false without a base price.
func priceDelta(base, candidate decimal.Decimal) (decimal.Decimal, bool) {
	if !base.IsPositive() {
		return decimal.Zero, false
	}
	return candidate.Sub(base).Abs().Div(base), true
}

func sameFold(a, b string) bool {
	return domain.NormalizeTag(a) != "" && domain.NormalizeTag(a) == domain.NormalizeTag(b)
}

func sortByScore(list []scored) {
	slices.SortStableFunc(list, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
}

func products(list []scored) []domain.Product {
	out := make([]domain.Product, len(list))
	for i, s := range list {
		out[i] = s.product
	}
	return out
}
