package handler

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type imageView struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

type variantView struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Price            decimal.Decimal  `json:"price"`
	CompareAtPrice   *decimal.Decimal `json:"compare_at_price,omitempty"`
	AvailableForSale bool             `json:"available_for_sale"`
}

type productView struct {
	ID               string           `json:"id"`
	Handle           string           `json:"handle"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Vendor           string           `json:"vendor,omitempty"`
	ProductType      string           `json:"product_type,omitempty"`
	Tags             []string         `json:"tags"`
	Price            decimal.Decimal  `json:"price"`
	CompareAtPrice   *decimal.Decimal `json:"compare_at_price,omitempty"`
	AvailableForSale bool             `json:"available_for_sale"`
	Images           []imageView      `json:"images"`
	Variants         []variantView    `json:"variants"`
}

type cartView struct {
	domain.CartState
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toProductView(p domain.Product) productView {
	v := productView{
		ID:               p.ID,
		Handle:           p.Handle,
		Title:            p.Title,
		Description:      p.Description,
		Vendor:           p.Vendor,
		ProductType:      p.ProductType,
		Tags:             p.Tags.List(),
		Price:            p.Price,
		CompareAtPrice:   nullable(p.CompareAtPrice),
		AvailableForSale: p.AvailableForSale,
		Images:           make([]imageView, 0, len(p.Images)),
		Variants:         make([]variantView, 0, len(p.Variants)),
	}
	for _, img := range p.Images {
		v.Images = append(v.Images, imageView{URL: img.URL, AltText: img.AltText})
	}
	for _, vr := range p.Variants {
		v.Variants = append(v.Variants, variantView{
			ID:               vr.ID,
			Title:            vr.Title,
			Price:            vr.Price,
			CompareAtPrice:   nullable(vr.CompareAtPrice),
			AvailableForSale: vr.AvailableForSale,
		})
	}
	return v
}

func toProductViews(products []domain.Product) []productView {
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, toProductView(p))
	}
	return out
}

func toCartView(st domain.CartState) cartView {
	if st.Items == nil {
		st.Items = []domain.CartItem{}
	}
	return cartView{CartState: st, ItemCount: st.ItemCount(), Subtotal: st.Subtotal()}
}
