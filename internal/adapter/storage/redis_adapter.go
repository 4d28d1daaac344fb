package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	keyPrefix    = "storefront:"
	defaultTTL   = 30 * 24 * time.Hour
	fieldVersion = "version"
	fieldItems   = "items"
	fieldUpdated = "updated_at"
	fieldURL     = "checkout_url"
)

// saveCartScript writes the cart hash and remote cart id only when the
// incoming version is newer than the stored one.
var saveCartScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
local version = tonumber(ARGV[1])
if current >= version then
	return 0
end

redis.call('HSET', KEYS[1], 'version', ARGV[1], 'items', ARGV[2], 'updated_at', ARGV[3], 'checkout_url', ARGV[4])
if ARGV[5] == '' then
	redis.call('DEL', KEYS[2])
else
	redis.call('SET', KEYS[2], ARGV[5])
end

local ttl = tonumber(ARGV[6])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
	if ARGV[5] ~= '' then
		redis.call('EXPIRE', KEYS[2], ttl)
	end
end
return 1
`)

// clearCartScript empties the cart but keeps its version as a tombstone so
// late saves from before the clear are rejected.
var clearCartScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
local version = tonumber(ARGV[1])
if current >= version then
	return 0
end

redis.call('HSET', KEYS[1], 'version', ARGV[1], 'items', '[]', 'updated_at', ARGV[2], 'checkout_url', '')
redis.call('DEL', KEYS[2])

local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisAdapter is the local cart store. Each namespace owns three keys:
// the cart hash, the remote cart id and the last completed order.
type RedisAdapter struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisAdapter(client redis.UniversalClient) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: defaultTTL}
}

// WithTTL sets how long idle carts are kept; zero keeps them forever.
func (r *RedisAdapter) WithTTL(ttl time.Duration) *RedisAdapter {
	r.ttl = ttl
	return r
}

// The namespace is wrapped in a hash tag so all keys of one cart share a
// cluster slot.
func cartKey(ns string) string      { return keyPrefix + "{" + ns + "}:cart_items" }
func cartIDKey(ns string) string    { return keyPrefix + "{" + ns + "}:cart_id" }
func lastOrderKey(ns string) string { return keyPrefix + "{" + ns + "}:last_order" }

func (r *RedisAdapter) LoadCart(ctx context.Context, ns string) (*domain.StoredCart, error) {
	pipe := r.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, cartKey(ns))
	idCmd := pipe.Get(ctx, cartIDKey(ns))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load cart %s: %w", ns, err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}

	cart := &domain.StoredCart{CheckoutURL: fields[fieldURL]}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load cart %s: bad version %q", ns, fields[fieldVersion])
	}
	cart.Version = version

	if ms, err := strconv.ParseInt(fields[fieldUpdated], 10, 64); err == nil {
		cart.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	if raw := fields[fieldItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cart.Items); err != nil {
			return nil, fmt.Errorf("load cart %s: decode items: %w", ns, err)
		}
	}

	id, err := idCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load cart id %s: %w", ns, err)
	}
	cart.RemoteCartID = id
	return cart, nil
}

// SaveCart reports false when a newer version is already stored.
func (r *RedisAdapter) SaveCart(ctx context.Context, ns string, cart domain.StoredCart) (bool, error) {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("encode items: %w", err)
	}

	result, err := saveCartScript.Run(ctx, r.client,
		[]string{cartKey(ns), cartIDKey(ns)},
		cart.Version, string(raw), cart.UpdatedAt.UnixMilli(), cart.CheckoutURL, cart.RemoteCartID, int64(r.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("save cart %s: %w", ns, err)
	}
	return result == 1, nil
}

func (r *RedisAdapter) ClearCart(ctx context.Context, ns string, version int64) error {
	err := clearCartScript.Run(ctx, r.client,
		[]string{cartKey(ns), cartIDKey(ns)},
		version, time.Now().UnixMilli(), int64(r.ttl.Seconds()),
	).Err()
	if err != nil {
		return fmt.Errorf("clear cart %s: %w", ns, err)
	}
	return nil
}

func (r *RedisAdapter) SaveLastOrder(ctx context.Context, ns string, order domain.OrderRecord) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return r.client.Set(ctx, lastOrderKey(ns), raw, r.ttl).Err()
}

func (r *RedisAdapter) LastOrder(ctx context.Context, ns string) (*domain.OrderRecord, error) {
	raw, err := r.client.Get(ctx, lastOrderKey(ns)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last order %s: %w", ns, err)
	}

	var order domain.OrderRecord
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode last order %s: %w", ns, err)
	}
	return &order, nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
