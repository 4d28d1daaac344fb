package service

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// TagFilter selects catalog products by exact tag match.
type TagFilter struct {
	catalog SnapshotSource
	rand    Random
}

func NewTagFilter(catalog SnapshotSource, rnd Random) *TagFilter {
	return &TagFilter{catalog: catalog, rand: rnd}
}

// FilterByTags filters the current catalog snapshot. A catalog error is
// returned alongside whatever the (possibly stale or empty) snapshot yields.
func (f *TagFilter) FilterByTags(ctx context.Context, tags []string, limit int, fallbackToRandom bool) ([]domain.Product, error) {
	snap, err := f.catalog.Get(ctx)
	return f.FilterSnapshot(snap, tags, limit, fallbackToRandom), err
}

// FilterSnapshot runs the filter against an explicit snapshot.
func (f *TagFilter) FilterSnapshot(snap *domain.CatalogSnapshot, tags []string, limit int, fallbackToRandom bool) []domain.Product {
	if snap.Empty() {
		return []domain.Product{}
	}

	query := domain.NewTagSet(tags...)
	if len(query) == 0 {
		if !fallbackToRandom {
			return []domain.Product{}
		}
		return truncate(shuffled(f.rand, snap.Products), limit)
	}

	var matches []domain.Product
	for _, p := range snap.Products {
		if p.Tags.Shared(query) > 0 {
			matches = append(matches, p)
		}
	}

	if len(matches) > 0 {
		return truncate(shuffled(f.rand, matches), limit)
	}
	if fallbackToRandom {
		return truncate(shuffled(f.rand, snap.Products), limit)
	}
	return []domain.Product{}
}
