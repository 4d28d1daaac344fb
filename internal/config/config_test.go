package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_URL", "https://backend.test/rpc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, CloudStoreNone, cfg.CloudStore)
	assert.Equal(t, 5*time.Minute, cfg.CatalogTTL)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 100, cfg.CatalogPageSize)
	assert.Equal(t, "shopify", cfg.GatewayNamespace)
	assert.Equal(t, 10000, cfg.MaxLiveCarts)
	assert.Equal(t, 30*time.Minute, cfg.CartIdleTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_URL", "https://backend.test/rpc")
	t.Setenv("CATALOG_TTL", "30s")
	t.Setenv("GATEWAY_RATE_LIMIT", "2.5")
	t.Setenv("CLOUD_STORE", CloudStoreMySQL)
	t.Setenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.CatalogTTL)
	assert.Equal(t, 2.5, cfg.GatewayRateLimit)
	assert.Equal(t, CloudStoreMySQL, cfg.CloudStore)
	assert.Contains(t, cfg.MySQLDSN, "parseTime=true")
}

func TestLoad_MySQLDSNKeepsOptions(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_URL", "https://backend.test/rpc")
	t.Setenv("CLOUD_STORE", CloudStoreMySQL)
	t.Setenv("MYSQL_DSN", "root:root@tcp(db:3306)/storefront?parseTime=false&timeout=5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.MySQLDSN, "parseTime=true")
	assert.Contains(t, cfg.MySQLDSN, "timeout=5s")
	assert.Contains(t, cfg.MySQLDSN, "tcp(db:3306)/storefront")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing gateway", map[string]string{}},
		{"bad duration", map[string]string{"GATEWAY_URL": "x", "CATALOG_TTL": "soon"}},
		{"page size too large", map[string]string{"GATEWAY_URL": "x", "CATALOG_PAGE_SIZE": "500"}},
		{"malformed mysql dsn", map[string]string{"GATEWAY_URL": "x", "CLOUD_STORE": CloudStoreMySQL, "MYSQL_DSN": "not a dsn"}},
		{"mysql without dsn", map[string]string{"GATEWAY_URL": "x", "CLOUD_STORE": CloudStoreMySQL}},
		{"firestore without project", map[string]string{"GATEWAY_URL": "x", "CLOUD_STORE": CloudStoreFirestore}},
		{"no live carts", map[string]string{"GATEWAY_URL": "x", "MAX_LIVE_CARTS": "0"}},
		{"unknown store", map[string]string{"GATEWAY_URL": "x", "CLOUD_STORE": "dynamo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("GATEWAY_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
