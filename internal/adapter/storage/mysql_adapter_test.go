package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func newMockMySQL(t *testing.T) (*MySQLAdapter, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLAdapter(db), mock
}

func TestUpsertCart(t *testing.T) {
	adapter, mock := newMockMySQL(t)

	rec := domain.CloudCartRecord{
		UserID:       "u1",
		RemoteCartID: "gid://shopify/Cart/1",
		Items:        []domain.CartItem{{VariantID: "gid://shopify/ProductVariant/9", Quantity: 3, Price: decimal.NewFromInt(100)}},
		ItemCount:    3,
		Subtotal:     decimal.NewFromInt(300),
		UpdatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cloud_carts")).
		WithArgs("u1", "gid://shopify/Cart/1", sqlmock.AnyArg(), int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, adapter.UpsertCart(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCart_GuardsOnUpdatedAt(t *testing.T) {
	assert.Contains(t, upsertCloudCart, "IF(VALUES(updated_at) >= updated_at, VALUES(items), items)")
	assert.Regexp(t, `updated_at\s+= GREATEST\(updated_at, VALUES\(updated_at\)\)$`, upsertCloudCart)
}

func TestUpsertCart_MissingUser(t *testing.T) {
	adapter, mock := newMockMySQL(t)

	err := adapter.UpsertCart(context.Background(), domain.CloudCartRecord{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCart_ExecError(t *testing.T) {
	adapter, mock := newMockMySQL(t)
	boom := errors.New("deadlock")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cloud_carts")).WillReturnError(boom)

	err := adapter.UpsertCart(context.Background(), domain.CloudCartRecord{UserID: "u1", UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, boom)
}

func TestGetCart(t *testing.T) {
	adapter, mock := newMockMySQL(t)
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"user_id", "remote_cart_id", "items", "item_count", "subtotal", "updated_at"}).
		AddRow("u1", "gid://shopify/Cart/1", []byte(`[{"variant_id":"gid://shopify/ProductVariant/9","quantity":3,"price":"100"}]`), 3, "300.00", updated)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cloud_carts WHERE user_id = ?")).
		WithArgs("u1").
		WillReturnRows(rows)

	rec, err := adapter.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.ItemCount)
	assert.True(t, decimal.NewFromInt(300).Equal(rec.Subtotal))
	assert.Equal(t, updated, rec.UpdatedAt)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, 3, rec.Items[0].Quantity)
}

func TestGetCart_NotFound(t *testing.T) {
	adapter, mock := newMockMySQL(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM cloud_carts")).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	rec, err := adapter.GetCart(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEnsureSchema(t *testing.T) {
	adapter, mock := newMockMySQL(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS cloud_carts")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, adapter.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
