package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToGlobalID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		typ  string
		want string
	}{
		{"numeric", "123", TypeProductVariant, "gid://shopify/ProductVariant/123"},
		{"already canonical", "gid://shopify/ProductVariant/123", TypeProductVariant, "gid://shopify/ProductVariant/123"},
		{"canonical other type kept", "gid://shopify/Product/9", TypeProductVariant, "gid://shopify/Product/9"},
		{"empty", "", TypeProduct, ""},
		{"whitespace trimmed", " 7 ", TypeCart, "gid://shopify/Cart/7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToGlobalID(tt.id, tt.typ))
		})
	}
}

func TestToGlobalID_Idempotent(t *testing.T) {
	for _, id := range []string{"1", "abc-def", "gid://shopify/ProductVariant/5", "", "0"} {
		once := ToGlobalID(id, TypeProductVariant)
		assert.Equal(t, once, ToGlobalID(once, TypeProductVariant), "id %q", id)
	}
}

func TestFromGlobalID(t *testing.T) {
	assert.Equal(t, "123", FromGlobalID("gid://shopify/ProductVariant/123"))
	assert.Equal(t, "c1-abc", FromGlobalID("gid://shopify/Cart/c1-abc?key=xyz"))
	assert.Equal(t, "plain", FromGlobalID("plain"))
	assert.Equal(t, "", FromGlobalID(""))
	assert.Equal(t, "55", FromGlobalID(ToGlobalID("55", TypeOrder)))
}
