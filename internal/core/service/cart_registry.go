package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/port"
)

const (
	defaultMaxCarts    = 10000
	defaultCartIdleTTL = 30 * time.Minute
)

// CartRegistry keeps one live CartService per identity namespace. Carts are
// created on first use and restored from storage before they are handed out.
// Their state is persisted, so idle carts are dropped and rebuilt on demand.
type CartRegistry struct {
	gateway port.Gateway
	local   port.LocalCartStore
	cloud   port.CloudCartStore
	queue   TaskQueue
	opts    []CartOption
	logger  *zap.Logger

	maxCarts int
	idleTTL  time.Duration
	now      Clock

	mu    sync.Mutex
	carts map[string]*cartEntry
}

type cartEntry struct {
	cart     *CartService
	lastSeen time.Time
}

func NewCartRegistry(gateway port.Gateway, local port.LocalCartStore, cloud port.CloudCartStore, queue TaskQueue, logger *zap.Logger, opts ...CartOption) *CartRegistry {
	logger = logging.OrNop(logger)
	return &CartRegistry{
		gateway:  gateway,
		local:    local,
		cloud:    cloud,
		queue:    queue,
		opts:     append([]CartOption{WithCartLogger(logger)}, opts...),
		logger:   logger,
		maxCarts: defaultMaxCarts,
		idleTTL:  defaultCartIdleTTL,
		now:      systemClock,
		carts:    make(map[string]*cartEntry),
	}
}

// WithLimits caps the number of live carts and how long an untouched cart
// is kept. Non-positive values keep the defaults.
func (r *CartRegistry) WithLimits(maxCarts int, idleTTL time.Duration) *CartRegistry {
	if maxCarts > 0 {
		r.maxCarts = maxCarts
	}
	if idleTTL > 0 {
		r.idleTTL = idleTTL
	}
	return r
}

func (r *CartRegistry) WithClock(c Clock) *CartRegistry {
	r.now = c
	return r
}

// Cart returns the cart for identity. A failed restore is logged and the
// cart is still returned; the restore is retried on the next call.
func (r *CartRegistry) Cart(ctx context.Context, identity CartIdentity) *CartService {
	now := r.now()

	r.mu.Lock()
	e, ok := r.carts[identity.Namespace]
	if !ok {
		r.makeRoomLocked()
		e = &cartEntry{cart: NewCartService(identity, r.gateway, r.local, r.cloud, r.queue, r.opts...)}
		r.carts[identity.Namespace] = e
	}
	e.lastSeen = now
	cart := e.cart
	r.mu.Unlock()

	if err := cart.Restore(ctx); err != nil {
		r.logger.Warn("cart restore failed, will retry", zap.String("namespace", identity.Namespace), zap.Error(err))
	}
	return cart
}

// EvictIdle drops carts untouched for longer than the idle TTL and returns
// how many were dropped. Carts holding unsaved changes are kept.
func (r *CartRegistry) EvictIdle() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for ns, e := range r.carts {
		if now.Sub(e.lastSeen) < r.idleTTL || e.cart.HoldsChanges() {
			continue
		}
		delete(r.carts, ns)
		evicted++
	}
	if evicted > 0 {
		r.logger.Debug("idle carts evicted", zap.Int("evicted", evicted), zap.Int("live", len(r.carts)))
	}
	return evicted
}

// makeRoomLocked evicts least recently used carts until one more fits.
func (r *CartRegistry) makeRoomLocked() {
	for len(r.carts) >= r.maxCarts {
		oldest := ""
		var oldestSeen time.Time
		for ns, e := range r.carts {
			if e.cart.HoldsChanges() {
				continue
			}
			if oldest == "" || e.lastSeen.Before(oldestSeen) {
				oldest, oldestSeen = ns, e.lastSeen
			}
		}
		if oldest == "" {
			r.logger.Warn("cart registry full of carts with unsaved changes", zap.Int("live", len(r.carts)))
			return
		}
		delete(r.carts, oldest)
	}
}

// Len reports how many carts are live.
func (r *CartRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}
