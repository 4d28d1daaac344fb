package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl1809/storefront/internal/core/domain"
)

const cloudCartsSchema = `
CREATE TABLE IF NOT EXISTS cloud_carts (
	user_id        VARCHAR(191)   NOT NULL PRIMARY KEY,
	remote_cart_id VARCHAR(255)   NOT NULL DEFAULT '',
	items          JSON           NOT NULL,
	item_count     INT            NOT NULL DEFAULT 0,
	subtotal       DECIMAL(12, 2) NOT NULL DEFAULT 0,
	updated_at     DATETIME(3)    NOT NULL
)`

// Columns are assigned left to right, so updated_at must stay last: every
// IF compares against the stored value before it is bumped.
const upsertCloudCart = `
INSERT INTO cloud_carts (user_id, remote_cart_id, items, item_count, subtotal, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	remote_cart_id = IF(VALUES(updated_at) >= updated_at, VALUES(remote_cart_id), remote_cart_id),
	items          = IF(VALUES(updated_at) >= updated_at, VALUES(items), items),
	item_count     = IF(VALUES(updated_at) >= updated_at, VALUES(item_count), item_count),
	subtotal       = IF(VALUES(updated_at) >= updated_at, VALUES(subtotal), subtotal),
	updated_at     = GREATEST(updated_at, VALUES(updated_at))`

// MySQLAdapter stores one cloud cart record per signed-in user.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, cloudCartsSchema); err != nil {
		return fmt.Errorf("create cloud_carts: %w", err)
	}
	return nil
}

// UpsertCart is idempotent per user; an older updated_at never overwrites a
// newer record.
func (m *MySQLAdapter) UpsertCart(ctx context.Context, rec domain.CloudCartRecord) error {
	if rec.UserID == "" {
		return domain.ErrMissingID
	}
	items := rec.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	_, err = m.db.ExecContext(ctx, upsertCloudCart,
		rec.UserID, rec.RemoteCartID, string(raw), rec.ItemCount, rec.Subtotal, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert cloud cart %s: %w", rec.UserID, err)
	}
	return nil
}

func (m *MySQLAdapter) GetCart(ctx context.Context, userID string) (*domain.CloudCartRecord, error) {
	var (
		rec domain.CloudCartRecord
		raw []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id, remote_cart_id, items, item_count, subtotal, updated_at
		FROM cloud_carts WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.RemoteCartID, &raw, &rec.ItemCount, &rec.Subtotal, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cloud cart: %w", err)
	}

	if err := json.Unmarshal(raw, &rec.Items); err != nil {
		return nil, fmt.Errorf("decode cloud cart items: %w", err)
	}
	return &rec, nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
