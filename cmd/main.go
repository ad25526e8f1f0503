package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fjod/go_cart/order-service/internal/cache"
	"github.com/fjod/go_cart/order-service/internal/config"
	ordersgrpc "github.com/fjod/go_cart/order-service/internal/grpc"
	ordershttp "github.com/fjod/go_cart/order-service/internal/http"
	"github.com/fjod/go_cart/order-service/internal/publisher"
	"github.com/fjod/go_cart/order-service/internal/repository"
	"github.com/fjod/go_cart/order-service/internal/service"
	"github.com/fjod/go_cart/order-service/internal/telemetry"
	"github.com/fjod/go_cart/order-service/pkg/logger"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: serviceName,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("order-service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("order-service starting...", "db_driver", cfg.DB.Driver, "cart_backend", cfg.Cart.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Version:      "1.0.0",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Stdout:       cfg.StdoutTracing,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.RunMigrations(cfg.DB.MigrationsPath); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations completed", "dialect", repo.Dialect())

	carts, closeCarts, err := openCartRepository(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer closeCarts()

	cartCache, closeCache := openCartCache(ctx, cfg, log)
	defer closeCache()

	cartService := service.NewCartService(carts, repo, cartCache, log)
	orderService, err := service.NewOrderService(repo, cartService, service.OrderOptions{
		AccessPolicy:        service.AccessPolicy(cfg.AccessPolicy),
		ClearCartOnCheckout: cfg.ClearCartOnCheckout,
		Logger:              log,
	})
	if err != nil {
		return fmt.Errorf("create order service: %w", err)
	}

	var wg sync.WaitGroup
	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Outbox relay
	var poller *publisher.OutboxPoller
	if len(cfg.Kafka.Brokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		poller = publisher.NewOutboxPoller(repo, writer, cfg.Kafka.OutboxInterval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(workersCtx)
		}()
		log.Info("outbox poller started", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events will accumulate unpublished")
	}

	// gRPC health server
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer, health := ordersgrpc.NewServer(repo, cfg.HealthCheckInterval, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Run(workersCtx)
	}()

	serverErr := make(chan error, 2)
	go func() {
		log.Info("gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(grpcLis); err != nil {
			serverErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// HTTP API
	handlers := ordershttp.Handlers{
		Cart:     ordershttp.NewCartHandler(cartService, cfg.RequestTimeout, log),
		Orders:   ordershttp.NewOrdersHandler(orderService, cfg.RequestTimeout, log),
		Checkout: ordershttp.NewCheckoutHandler(orderService, cfg.RequestTimeout, log),
		Products: ordershttp.NewProductHandler(repo, cfg.RequestTimeout, log),
	}
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: ordershttp.NewRouter(handlers, ordershttp.RouterConfig{
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
			DB:             repo,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Graceful shutdown
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-serverErr:
		log.Error("server failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	cancelWorkers()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("background workers didn't stop in time")
	}

	if poller != nil {
		if err := poller.Close(); err != nil {
			log.Warn("kafka writer close failed", "error", err)
		}
	}

	log.Info("order-service stopped")
	return runErr
}

func openRepository(cfg *config.Config) (*repository.Repository, error) {
	switch cfg.DB.Driver {
	case "postgres":
		repo, err := repository.NewPostgresRepository(&repository.Credentials{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			DBName:   cfg.DB.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return repo, nil
	default:
		repo, err := repository.NewSQLiteRepository(cfg.DB.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repo, nil
	}
}

func openCartRepository(ctx context.Context, cfg *config.Config, repo *repository.Repository) (repository.CartRepository, func(), error) {
	if cfg.Cart.Backend != "mongo" {
		return repository.NewSQLCartRepository(repo), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.ConnectMongoDB(connectCtx, cfg.Cart.MongoURI, cfg.Cart.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(disconnectCtx)
	}

	carts := repository.NewMongoCartRepository(db)
	if err := repository.EnsureMongoIndexes(connectCtx, carts); err != nil {
		closeFn()
		return nil, nil, err
	}
	return carts, closeFn, nil
}

// openCartCache falls back to no caching when Redis is not configured. An
// unreachable Redis is tolerated: the cache breaker degrades reads to the
// store until it recovers.
func openCartCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.CartCache, func()) {
	if cfg.Redis.Addr == "" {
		log.Info("REDIS_ADDR not set, cart cache disabled")
		return cache.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
	}

	return cache.NewRedisCache(client, cfg.Cart.CacheTTL, log), func() { _ = client.Close() }
}
