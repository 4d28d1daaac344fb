package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusEmpty           CartStatus = "empty"
	CartStatusPopulated       CartStatus = "populated"
	CartStatusCheckoutPending CartStatus = "checkout_pending"
	CartStatusCompleted       CartStatus = "completed"
)

type CartItem struct {
	VariantID string          `json:"variant_id"`
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
	Handle    string          `json:"handle,omitempty"`
}

// CartState holds items plus the remote checkout reference. Item count and
// subtotal are never stored.
type CartState struct {
	Items        []CartItem `json:"items"`
	RemoteCartID string     `json:"remote_cart_id,omitempty"`
	CheckoutURL  string     `json:"checkout_url,omitempty"`
	Status       CartStatus `json:"status"`
}

func (s CartState) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

func (s CartState) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// IndexOf returns the position of the line for variantID, or -1.
func (s CartState) IndexOf(variantID string) int {
	want := ToGlobalID(variantID, TypeProductVariant)
	for i, it := range s.Items {
		if it.VariantID == want {
			return i
		}
	}
	return -1
}

// Clone returns a copy whose item slice can be modified freely.
func (s CartState) Clone() CartState {
	c := s
	c.Items = append([]CartItem(nil), s.Items...)
	return c
}

// StoredCart is the local persistence record for one session namespace.
type StoredCart struct {
	Items        []CartItem
	RemoteCartID string
	CheckoutURL  string
	Version      int64
	UpdatedAt    time.Time
}

// CloudCartRecord is the best-effort cloud copy of a signed-in user's cart.
type CloudCartRecord struct {
	UserID       string          `json:"user_id"`
	RemoteCartID string          `json:"remote_cart_id"`
	Items        []CartItem      `json:"items"`
	ItemCount    int             `json:"item_count"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CheckoutLine struct {
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
}

type Checkout struct {
	CartID      string `json:"cart_id"`
	CheckoutURL string `json:"checkout_url"`
}

// RemoteCart mirrors the backend-owned cart. It is informational only.
type RemoteCart struct {
	ID          string         `json:"id"`
	CheckoutURL string         `json:"checkout_url"`
	Lines       []CheckoutLine `json:"lines"`
}
