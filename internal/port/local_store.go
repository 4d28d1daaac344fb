package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type LocalCartStore interface {
	// LoadCart returns nil when nothing is stored for the namespace
	LoadCart(ctx context.Context, namespace string) (*domain.StoredCart, error)

	// SaveCart writes items and remote cart id, returns false if a newer version is already stored
	SaveCart(ctx context.Context, namespace string, cart domain.StoredCart) (bool, error)

	// ClearCart removes items and remote cart id, keeping only the version marker
	ClearCart(ctx context.Context, namespace string, version int64) error

	SaveLastOrder(ctx context.Context, namespace string, order domain.OrderRecord) error

	// LastOrder returns nil when no order was completed in this namespace
	LastOrder(ctx context.Context, namespace string) (*domain.OrderRecord, error)
}
