package domain

import "strings"

const (
	globalIDScheme = "gid://"

	// DefaultNamespace is the backend namespace used when none is configured.
	DefaultNamespace = "shopify"

	TypeProduct        = "Product"
	TypeProductVariant = "ProductVariant"
	TypeCart           = "Cart"
	TypeOrder          = "Order"
)

var namespace = DefaultNamespace

// SetNamespace changes the namespace used for newly built global ids.
// Call it once during startup.
func SetNamespace(ns string) {
	if ns = strings.TrimSpace(ns); ns != "" {
		namespace = ns
	}
}

func IsGlobalID(id string) bool {
	return strings.HasPrefix(id, globalIDScheme)
}

// ToGlobalID wraps id as gid://<namespace>/<typ>/<id>. Ids already in
// canonical form are returned unchanged, so ToGlobalID(ToGlobalID(x)) ==
// ToGlobalID(x). Empty input stays empty.
func ToGlobalID(id, typ string) string {
	id = strings.TrimSpace(id)
	if id == "" || IsGlobalID(id) {
		return id
	}
	return globalIDScheme + namespace + "/" + typ + "/" + id
}

// FromGlobalID returns the trailing segment of a canonical id (query string
// stripped). Non-canonical input is returned unchanged.
func FromGlobalID(id string) string {
	if !IsGlobalID(id) {
		return id
	}
	rest := strings.TrimPrefix(id, globalIDScheme)
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return rest
}
