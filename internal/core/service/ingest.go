package service

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/rl1809/storefront/internal/core/domain"
)

// The backend returns products in several shapes (REST lists, GraphQL
// connections, legacy image fields, tags as list or comma string). Everything
// is folded into domain.Product here and nowhere else.

// ParseProducts reads a product list found at path in body.
func ParseProducts(body []byte, path string) []domain.Product {
	nodes := connectionNodes(gjson.GetBytes(body, path))
	out := make([]domain.Product, 0, len(nodes))
	for _, n := range nodes {
		if p, ok := parseProduct(n); ok {
			out = append(out, p)
		}
	}
	return out
}

// ParseProduct reads a single product at path; ok is false when absent.
func ParseProduct(body []byte, path string) (domain.Product, bool) {
	r := gjson.GetBytes(body, path)
	if !r.Exists() || r.Type == gjson.Null {
		return domain.Product{}, false
	}
	return parseProduct(r)
}

func parseProduct(r gjson.Result) (domain.Product, bool) {
	if !r.IsObject() {
		return domain.Product{}, false
	}

	p := domain.Product{
		ID:          domain.ToGlobalID(firstString(r, "id", "admin_graphql_api_id"), domain.TypeProduct),
		Handle:      firstString(r, "handle"),
		Title:       firstString(r, "title", "name"),
		Description: firstString(r, "description", "body_html", "descriptionHtml"),
		Vendor:      firstString(r, "vendor"),
		ProductType: firstString(r, "productType", "product_type", "type"),
		Tags:        parseTags(r.Get("tags")),
		Images:      parseImages(r),
	}
	if p.ID == "" && p.Handle == "" {
		return domain.Product{}, false
	}

	for _, vn := range connectionNodes(r.Get("variants")) {
		p.Variants = append(p.Variants, parseVariant(vn))
	}

	p.Price = firstMoney(r, "priceRange.minVariantPrice", "price", "min_price")
	if p.Price.IsZero() && len(p.Variants) > 0 {
		p.Price = p.Variants[0].Price
	}
	p.CompareAtPrice = nullMoney(r, "compareAtPriceRange.minVariantPrice", "compare_at_price", "compareAtPrice")
	if !p.CompareAtPrice.Valid && len(p.Variants) > 0 {
		p.CompareAtPrice = p.Variants[0].CompareAtPrice
	}

	if v := r.Get("availableForSale"); v.Exists() {
		p.AvailableForSale = v.Bool()
	} else if v := r.Get("available"); v.Exists() {
		p.AvailableForSale = v.Bool()
	}
	for _, v := range p.Variants {
		if v.AvailableForSale {
			p.AvailableForSale = true
			break
		}
	}

	return p, true
}

func parseVariant(r gjson.Result) domain.Variant {
	v := domain.Variant{
		ID:              domain.ToGlobalID(firstString(r, "id", "admin_graphql_api_id"), domain.TypeProductVariant),
		Title:           firstString(r, "title"),
		Price:           firstMoney(r, "price"),
		CompareAtPrice:  nullMoney(r, "compareAtPrice", "compare_at_price"),
		InventoryPolicy: strings.ToLower(firstString(r, "inventoryPolicy", "inventory_policy")),
	}
	for _, path := range []string{"inventoryQuantity", "inventory_quantity", "quantityAvailable"} {
		if q := r.Get(path); q.Exists() {
			v.InventoryQuantity = int(q.Int())
			break
		}
	}
	if a := r.Get("availableForSale"); a.Exists() {
		v.AvailableForSale = a.Bool()
	} else if a := r.Get("available"); a.Exists() {
		v.AvailableForSale = a.Bool()
	} else {
		v.AvailableForSale = v.InventoryQuantity > 0 || v.InventoryPolicy == "continue"
	}
	return v
}

func parseTags(r gjson.Result) domain.TagSet {
	switch {
	case r.IsArray():
		var tags []string
		for _, t := range r.Array() {
			if t.Type == gjson.String {
				tags = append(tags, t.String())
			}
		}
		return domain.NewTagSet(tags...)
	case r.Type == gjson.String:
		return domain.NewTagSet(strings.Split(r.String(), ",")...)
	default:
		return domain.NewTagSet()
	}
}

func parseImages(r gjson.Result) []domain.Image {
	var images []domain.Image
	seen := map[string]bool{}
	add := func(n gjson.Result) {
		img := domain.Image{AltText: firstString(n, "altText", "alt")}
		if n.Type == gjson.String {
			img.URL = n.String()
		} else {
			img.URL = firstString(n, "url", "src", "originalSrc", "transformedSrc")
		}
		if img.URL != "" && !seen[img.URL] {
			seen[img.URL] = true
			images = append(images, img)
		}
	}

	for _, path := range []string{"featuredImage", "image"} {
		if n := r.Get(path); n.Exists() && n.Type != gjson.Null {
			add(n)
		}
	}
	for _, path := range []string{"images", "media"} {
		for _, n := range connectionNodes(r.Get(path)) {
			if img := n.Get("image"); img.IsObject() {
				n = img
			}
			add(n)
		}
	}
	return images
}

// connectionNodes unwraps a plain array, {edges:[{node}]} or {nodes:[...]}.
func connectionNodes(r gjson.Result) []gjson.Result {
	switch {
	case r.IsArray():
		return r.Array()
	case r.Get("edges").IsArray():
		return r.Get("edges.#.node").Array()
	case r.Get("nodes").IsArray():
		return r.Get("nodes").Array()
	}
	return nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func nullMoney(r gjson.Result, paths ...string) decimal.NullDecimal {
	for _, p := range paths {
		v := r.Get(p)
		if v.IsObject() {
			v = v.Get("amount")
		}
		if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
			continue
		}
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return decimal.NewNullDecimal(d)
		}
	}
	return decimal.NullDecimal{}
}

func firstMoney(r gjson.Result, paths ...string) decimal.Decimal {
	if m := nullMoney(r, paths...); m.Valid {
		return m.Decimal
	}
	return decimal.Zero
}
