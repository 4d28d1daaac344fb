package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const (
	CloudStoreNone      = "none"
	CloudStoreMySQL     = "mysql"
	CloudStoreFirestore = "firestore"
)

type Config struct {
	HTTPAddr string // storefront API (:8080)
	GRPCAddr string // gRPC health (:50051)

	GatewayURL       string        // commerce backend RPC endpoint
	GatewayAPIKey    string        // sent as bearer token to the backend
	GatewayTimeout   time.Duration // per attempt
	GatewayRateLimit float64       // requests per second, 0 disables
	GatewayNamespace string        // gid://<namespace>/...

	RedisAddr string

	CloudStore           string // none | mysql | firestore
	MySQLDSN             string
	FirestoreProject     string
	FirestoreCredentials string

	JWTSecret string // verifies identity tokens issued by the auth provider

	CatalogTTL          time.Duration
	CatalogPageSize     int
	CatalogWarmSchedule string // cron spec, empty disables

	PersistWorkers   int
	PersistQueueSize int

	MaxLiveCarts int           // carts kept in memory
	CartIdleTTL  time.Duration // untouched carts are dropped after this

	LogLevel string
}

// Load reads the environment, seeded from .env when the file exists.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		HTTPAddr:             envOr("HTTP_ADDR", ":8080"),
		GRPCAddr:             envOr("GRPC_ADDR", ":50051"),
		GatewayURL:           os.Getenv("GATEWAY_URL"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayNamespace:     envOr("GATEWAY_NAMESPACE", "shopify"),
		RedisAddr:            envOr("REDIS_ADDR", "localhost:6379"),
		CloudStore:           envOr("CLOUD_STORE", CloudStoreNone),
		MySQLDSN:             os.Getenv("MYSQL_DSN"),
		FirestoreProject:     os.Getenv("FIRESTORE_PROJECT"),
		FirestoreCredentials: os.Getenv("FIRESTORE_CREDENTIALS"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		CatalogWarmSchedule:  envOr("CATALOG_WARM_SCHEDULE", "@every 4m"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.GatewayTimeout, err = durationOr("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CatalogTTL, err = durationOr("CATALOG_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CartIdleTTL, err = durationOr("CART_IDLE_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.GatewayRateLimit, err = floatOr("GATEWAY_RATE_LIMIT", 0); err != nil {
		return Config{}, err
	}
	if cfg.CatalogPageSize, err = intOr("CATALOG_PAGE_SIZE", 100); err != nil {
		return Config{}, err
	}
	if cfg.PersistWorkers, err = intOr("PERSIST_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.PersistQueueSize, err = intOr("PERSIST_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.MaxLiveCarts, err = intOr("MAX_LIVE_CARTS", 10000); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.CloudStore == CloudStoreMySQL {
		if cfg.MySQLDSN, err = normalizeMySQLDSN(cfg.MySQLDSN); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// normalizeMySQLDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("MYSQL_DSN: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

func (c Config) validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.CatalogPageSize < 1 || c.CatalogPageSize > 250 {
		return fmt.Errorf("CATALOG_PAGE_SIZE must be between 1 and 250")
	}
	if c.PersistWorkers < 1 {
		return fmt.Errorf("PERSIST_WORKERS must be positive")
	}
	if c.PersistQueueSize < 1 {
		return fmt.Errorf("PERSIST_QUEUE_SIZE must be positive")
	}
	if c.MaxLiveCarts < 1 {
		return fmt.Errorf("MAX_LIVE_CARTS must be positive")
	}
	if c.CartIdleTTL <= 0 {
		return fmt.Errorf("CART_IDLE_TTL must be positive")
	}

	switch c.CloudStore {
	case CloudStoreNone:
	case CloudStoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when CLOUD_STORE=mysql")
		}
	case CloudStoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT is required when CLOUD_STORE=firestore")
		}
	default:
		return fmt.Errorf("CLOUD_STORE must be one of none, mysql, firestore")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func floatOr(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return f, nil
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
