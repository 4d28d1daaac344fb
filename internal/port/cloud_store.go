package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CloudCartStore interface {
	// UpsertCart stores the record keyed by user id; older updated_at never overwrites newer
	UpsertCart(ctx context.Context, record domain.CloudCartRecord) error

	// GetCart returns nil when the user has no cloud record
	GetCart(ctx context.Context, userID string) (*domain.CloudCartRecord, error)
}
