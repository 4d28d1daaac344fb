package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type Gateway interface {
	// Call sends one action to the commerce backend. Transient failures are
	// retried inside the implementation; the returned error is a
	// *domain.GatewayError once the retry budget is spent.
	Call(ctx context.Context, action domain.Action, payload any) (domain.Response, error)
}
