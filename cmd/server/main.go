package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/storefront/internal/adapter/gateway"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	domain.SetNamespace(cfg.GatewayNamespace)

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	local := storage.NewRedisAdapter(rdb)

	// Initialize cloud store
	cloud, closeCloud, err := openCloudStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCloud()

	// Initialize gateway and catalog services
	gw := gateway.NewHTTPGateway(cfg.GatewayURL,
		gateway.WithAPIKey(cfg.GatewayAPIKey),
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithRateLimit(cfg.GatewayRateLimit, 10),
		gateway.WithLogger(logger),
	)
	catalog := service.NewCatalogCache(gw,
		service.WithCatalogTTL(cfg.CatalogTTL),
		service.WithCatalogPageSize(cfg.CatalogPageSize),
		service.WithCatalogLogger(logger),
	)
	rnd := service.NewTimeSeededRandom()
	filter := service.NewTagFilter(catalog, rnd)
	recommender := service.NewRecommender(catalog, rnd)

	// Start persistence workers
	queue := service.NewPersistenceQueue(local, cloud, gw, cfg.PersistQueueSize, service.WithQueueLogger(logger))
	queue.Start(cfg.PersistWorkers)

	carts := service.NewCartRegistry(gw, local, cloud, queue, logger).WithLimits(cfg.MaxLiveCarts, cfg.CartIdleTTL)

	scheduler := cron.New()

	// Idle cart eviction
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if n := carts.EvictIdle(); n > 0 {
			logger.Info("evicted idle carts", zap.Int("evicted", n), zap.Int("live", carts.Len()))
		}
	}); err != nil {
		return err
	}

	// Catalog warm-up
	if cfg.CatalogWarmSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.CatalogWarmSchedule, func() {
			warmCtx, warmCancel := context.WithTimeout(ctx, time.Minute)
			defer warmCancel()
			if err := catalog.Warm(warmCtx); err != nil {
				logger.Warn("catalog warm-up failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
		logger.Info("catalog warm-up scheduled", zap.String("schedule", cfg.CatalogWarmSchedule))
	}
	scheduler.Start()
	go func() {
		if err := catalog.Warm(ctx); err != nil {
			logger.Warn("initial catalog load failed", zap.Error(err))
		}
	}()

	// Initialize gRPC health server
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(catalog, filter, recommender, carts, handler.NewIdentityVerifier(cfg.JWTSecret), logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpHandler.Routes())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	<-scheduler.Stop().Done()
	cancel()

	// Drain pending writes before the stores close
	queue.Close()
	logger.Info("persistence workers stopped")
	return nil
}

// openCloudStore returns nil when cloud persistence is disabled.
func openCloudStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.CloudCartStore, func(), error) {
	switch cfg.CloudStore {
	case config.CloudStoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := storage.NewMySQLAdapter(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to mysql")
		return store, func() { db.Close() }, nil

	case config.CloudStoreFirestore:
		var opts []option.ClientOption
		if cfg.FirestoreCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.FirestoreCredentials))
		}
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject, opts...)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewFirestoreAdapter(client)
		logger.Info("connected to firestore", zap.String("project", cfg.FirestoreProject))
		return store, func() { store.Close() }, nil
	}

	logger.Info("cloud cart store disabled")
	return nil, func() {}, nil
}
