package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/activitysync/internal/cache"
	"github.com/prudhvinik1/activitysync/internal/config"
	"github.com/prudhvinik1/activitysync/internal/database"
	"github.com/prudhvinik1/activitysync/internal/handlers"
	syncmw "github.com/prudhvinik1/activitysync/internal/middleware"
	"github.com/prudhvinik1/activitysync/internal/ratelimit"
	"github.com/prudhvinik1/activitysync/internal/repositories"
	"github.com/prudhvinik1/activitysync/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, logger.WithField("component", "postgres"))
	if err != nil {
		logger.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	if cfg.RunMigrations {
		if err := database.Migrate(ctx, postgresPool); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	readiness := map[string]handlers.Pinger{"postgres": postgresPool}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisURL, logger.WithField("component", "redis"))
		if err != nil {
			logger.Fatalf("Failed to create redis client: %v", err)
		}
		defer redisClient.Close()

		readiness["redis"] = handlers.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	// Repositories
	accounts := repositories.NewPostgresAccountRepository(postgresPool)
	devices := repositories.NewPostgresDeviceRepository(postgresPool)
	events := repositories.NewPostgresEventStore(postgresPool)

	// Ownership cache
	var ownershipCache cache.OwnershipCache
	switch cfg.CacheBackend {
	case config.BackendRedis:
		ownershipCache = cache.NewRedisCache(redisClient)
	default:
		memoryCache := cache.NewMemoryCache()
		go memoryCache.Run(ctx, cfg.CacheSweepInterval)
		ownershipCache = memoryCache
	}
	resolver := cache.NewResolver(ownershipCache, devices, cfg.CacheTTL,
		logger.WithField("component", "ownership"),
		cache.WithLookupCounter(metrics.CacheLookups),
	)

	// Rate limiter
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
	default:
		memoryLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		go memoryLimiter.Run(ctx)
		limiter = memoryLimiter
	}

	// Services
	var syncService services.SyncService = services.NewSyncEngine(events, accounts, resolver,
		logger.WithField("component", "sync"),
		services.WithClockSkewLeeway(cfg.ClockSkewLeeway),
	)
	syncService = services.LoggingMiddleware(logger.WithField("component", "sync"))(syncService)
	syncService = services.InstrumentingMiddleware(metrics)(syncService)

	authService := services.NewAuthService(cfg.JWTSecret)

	syncHandler := handlers.NewSyncHandler(syncService, logger.WithField("component", "http"))
	healthHandler := handlers.NewHealthHandler(readiness, logger.WithField("component", "health"))

	// Initialize HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(syncmw.RequestLogger(logger.WithField("component", "http")))
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", healthHandler.Health)
	router.Get("/ready", healthHandler.Ready)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	router.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(syncmw.AuthGate(authService))
		r.Use(syncmw.RateLimit(limiter, logger.WithField("component", "ratelimit")))
		syncHandler.Routes(r)
	})

	// Start Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.Infof("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("Server stopped gracefully")
}

func newLogger(cfg *config.Config) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log.WithField("service", "activitysync")
}
