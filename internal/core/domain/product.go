package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Variant struct {
	ID                string
	Title             string
	Price             decimal.Decimal
	CompareAtPrice    decimal.NullDecimal
	AvailableForSale  bool
	InventoryQuantity int
	InventoryPolicy   string
}

type Image struct {
	URL     string
	AltText string
}

// Product is the single canonical shape produced at ingestion. IDs are
// canonical global ids and Tags is already normalized.
type Product struct {
	ID               string
	Handle           string
	Title            string
	Description      string
	Vendor           string
	ProductType      string
	Tags             TagSet
	Variants         []Variant
	Images           []Image
	Price            decimal.Decimal
	CompareAtPrice   decimal.NullDecimal
	AvailableForSale bool
}

func (p Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// Variant looks a variant up by canonical or raw id.
func (p Product) Variant(id string) (Variant, bool) {
	want := ToGlobalID(id, TypeProductVariant)
	for _, v := range p.Variants {
		if ToGlobalID(v.ID, TypeProductVariant) == want {
			return v, true
		}
	}
	return Variant{}, false
}

// SameAs reports whether both products refer to the same catalog entry.
func (p Product) SameAs(other Product) bool {
	if p.ID != "" && ToGlobalID(p.ID, TypeProduct) == ToGlobalID(other.ID, TypeProduct) {
		return true
	}
	return p.Handle != "" && p.Handle == other.Handle
}

// TagSet is a set of normalized tags.
type TagSet map[string]struct{}

// NormalizeTag lowercases and trims a tag. Empty means "drop it".
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func NewTagSet(tags ...string) TagSet {
	set := make(TagSet, len(tags))
	for _, t := range tags {
		if n := NormalizeTag(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[NormalizeTag(tag)]
	return ok
}

func (s TagSet) HasAny(tags ...string) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Shared counts tags present in both sets.
func (s TagSet) Shared(other TagSet) int {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for t := range small {
		if _, ok := large[t]; ok {
			n++
		}
	}
	return n
}

func (s TagSet) List() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type CatalogSnapshot struct {
	Products   []Product
	CapturedAt time.Time
}

func (s *CatalogSnapshot) Empty() bool {
	return s == nil || len(s.Products) == 0
}

// FreshAt reports whether the snapshot is still readable at now.
func (s *CatalogSnapshot) FreshAt(now time.Time, ttl time.Duration) bool {
	if s == nil {
		return false
	}
	return now.Sub(s.CapturedAt) < ttl
}
