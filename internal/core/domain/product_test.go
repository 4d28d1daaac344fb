package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTagSet_NormalizesAndMatchesExactly(t *testing.T) {
	set := NewTagSet(" Tier 10 ", "CRYSTAL", "", "crystal")

	assert.Len(t, set, 2)
	assert.True(t, set.Has("tier 10"))
	assert.True(t, set.Has("Crystal"))
	assert.False(t, set.Has("tier 1"))
	assert.Equal(t, []string{"crystal", "tier 10"}, set.List())
}

func TestTagSet_Shared(t *testing.T) {
	a := NewTagSet("a", "b", "c")
	b := NewTagSet("b", "c", "d", "e")
	assert.Equal(t, 2, a.Shared(b))
	assert.Equal(t, 2, b.Shared(a))
	assert.Zero(t, a.Shared(NewTagSet()))
}

func TestProduct_SameAs(t *testing.T) {
	p := Product{ID: "gid://shopify/Product/1", Handle: "rose-quartz"}
	assert.True(t, p.SameAs(Product{ID: "1"}))
	assert.True(t, p.SameAs(Product{ID: "2", Handle: "rose-quartz"}))
	assert.False(t, p.SameAs(Product{ID: "2", Handle: "amethyst"}))
	assert.False(t, Product{}.SameAs(Product{}))
}

func TestCatalogSnapshot_FreshAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &CatalogSnapshot{Products: []Product{{ID: "1"}}, CapturedAt: t0}

	assert.True(t, s.FreshAt(t0.Add(299*time.Second), 5*time.Minute))
	assert.False(t, s.FreshAt(t0.Add(300*time.Second), 5*time.Minute))

	var missing *CatalogSnapshot
	assert.False(t, missing.FreshAt(t0, time.Minute))
	assert.True(t, missing.Empty())
}
