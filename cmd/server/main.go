package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/esp-selector-go/internal/api"
	"github.com/irfndi/esp-selector-go/internal/api/handlers"
	"github.com/irfndi/esp-selector-go/internal/cache"
	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/database"
	"github.com/irfndi/esp-selector-go/internal/logging"
	"github.com/irfndi/esp-selector-go/internal/metrics"
	"github.com/irfndi/esp-selector-go/internal/middleware"
	"github.com/irfndi/esp-selector-go/internal/services"
	"github.com/irfndi/esp-selector-go/internal/telemetry"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 30 * time.Second
)

// connectRetry applies to Postgres outside development.
var connectRetry = database.DefaultRetryPolicy()

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = logger.Shutdown(ctx)
	}()
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitTelemetry(ctx, telemetry.FromConfig(cfg), logger.Logger())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logrusLogger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	app, err := newApplication(ctx, cfg, logger, logrusLogger, provider.TracerProvider())
	if err != nil {
		return err
	}

	srv := newHTTPServer(cfg, app.router)
	serverErr := make(chan error, 1)
	go func() {
		logger.LogStartup(telemetry.ServiceName, app.version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	reason := "signal received"
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			reason = "server error"
			logrusLogger.WithError(err).Error("HTTP server failed")
		}
	}
	logger.LogShutdown(telemetry.ServiceName, reason)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrusLogger.WithError(err).Error("Server forced to shutdown")
	}
	app.Close(shutdownCtx)
	return nil
}

// newLogger returns the OTLP-exporting logger when log export is enabled, else JSON on stdout.
func newLogger(cfg *config.Config) *logging.StandardLogger {
	if !cfg.Telemetry.LogsEnabled {
		return logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	}
	otlpCfg := logging.OTLPConfig{
		Enabled:        true,
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: serviceVersion(cfg),
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		endpoint, err := telemetry.ParseOTLPEndpoint(cfg.Telemetry.OTLPEndpoint, "logs")
		if err != nil {
			logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
			logger.Logger().Warn("Invalid OTLP endpoint, logging to stdout", "error", err.Error())
			return logger
		}
		otlpCfg.Endpoint = endpoint.HostPort
		otlpCfg.URLPath = endpoint.URLPath
		otlpCfg.Insecure = endpoint.Insecure
	}
	return logging.NewStandardOTLPLogger(otlpCfg)
}

func serviceVersion(cfg *config.Config) string {
	if cfg.Telemetry.ServiceVersion != "" {
		return cfg.Telemetry.ServiceVersion
	}
	return telemetry.ServiceVersion
}

// application owns everything the HTTP server is built from.
type application struct {
	router  *gin.Engine
	tasks   *services.TaskManager
	db      *database.PostgresDB
	redis   *database.RedisClient
	version string
	logger  *logrus.Logger
	stop    context.CancelFunc
}

func newApplication(ctx context.Context, cfg *config.Config, logger *logging.StandardLogger, logrusLogger *logrus.Logger, tp trace.TracerProvider) (*application, error) {
	store, db, err := openCurveStore(ctx, cfg, logger, logrusLogger, tp)
	if err != nil {
		return nil, err
	}
	redisClient, paramCache := openCache(ctx, cfg, logger, logrusLogger)

	// Interfaces stay nil without Redis so the service and handlers see "no cache".
	var derived interfaces.DerivedCache
	var cacheAdmin handlers.CacheAdmin
	if paramCache != nil {
		derived = paramCache
		cacheAdmin = paramCache
	}

	collector := metrics.NewMetricsCollector(logger, telemetry.ServiceName)
	engine, err := services.NewPumpService(cfg, store, derived, collector, logger.WithComponent("engine"))
	if err != nil {
		closeConnections(db, redisClient)
		return nil, fmt.Errorf("failed to create pump service: %w", err)
	}

	sweepCtx, stop := context.WithCancel(context.Background())
	tasks := services.NewTaskManager(cfg.Tasks, collector, logrusLogger)
	tasks.StartSweeper(sweepCtx, sweepInterval)

	checks := make(map[string]handlers.HealthChecker)
	if db != nil {
		checks["database"] = db
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	version := serviceVersion(cfg)
	api.SetupRoutes(router, api.Dependencies{
		Engine:          engine,
		Tasks:           tasks,
		Cache:           cacheAdmin,
		Metrics:         collector,
		Logger:          logger,
		AuthMiddleware:  middleware.NewAuthMiddleware(cfg.Security.JWTSecret),
		AdminMiddleware: middleware.NewAdminMiddleware(cfg.Security.AdminAPIKey),
		HealthChecks:    checks,
		Version:         version,
		OptimizeTimeout: config.Duration(cfg.Tasks.OptimizationTimeout, 2*time.Minute),
		ForecastTimeout: config.Duration(cfg.Tasks.ForecastTimeout, 30*time.Second),
	})

	return &application{
		router:  router,
		tasks:   tasks,
		db:      db,
		redis:   redisClient,
		version: version,
		logger:  logrusLogger,
		stop:    stop,
	}, nil
}

// Close stops the task sweeper, cancels running tasks and closes the connections.
func (a *application) Close(ctx context.Context) {
	a.stop()
	if err := a.tasks.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Tasks did not finish before shutdown deadline")
	}
	closeConnections(a.db, a.redis)
}

func closeConnections(db *database.PostgresDB, redisClient *database.RedisClient) {
	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
}

// openCurveStore connects to Postgres and applies migrations. In development an unreachable
// database falls back to the in-memory store at once; elsewhere it is retried, then fatal.
func openCurveStore(ctx context.Context, cfg *config.Config, logger *logging.StandardLogger, logrusLogger *logrus.Logger, tp trace.TracerProvider) (interfaces.CurveStore, *database.PostgresDB, error) {
	policy := connectRetry
	if cfg.Environment == "development" {
		policy.MaxRetries = 0
	}
	var db *database.PostgresDB
	err := database.Retry(ctx, policy, logrusLogger, "postgres connect", func(ctx context.Context) error {
		var err error
		db, err = database.NewPostgresConnection(ctx, cfg.Database, logrusLogger)
		return err
	})
	if err != nil {
		if cfg.Environment != "development" {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logrusLogger.WithError(err).Warn("PostgreSQL unavailable, using in-memory curve store")
		return interfaces.NewMemoryCurveStore(), nil, nil
	}

	traced := database.NewTracedDB(db.Pool, tp, logger)
	if err := database.RunMigrations(ctx, traced, logrusLogger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database.NewCurveRepository(traced, logger.WithComponent("curve_repository")), db, nil
}

// openCache connects to Redis when enabled. Redis is optional: a failed connection only
// disables the enhanced parameter cache.
func openCache(ctx context.Context, cfg *config.Config, logger *logging.StandardLogger, logrusLogger *logrus.Logger) (*database.RedisClient, *cache.EnhancedParameterCache) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := database.NewRedisConnection(ctx, cfg.Redis, logrusLogger)
	if err != nil {
		logrusLogger.WithError(err).Warn("Redis unavailable, enhanced parameter cache disabled")
		return nil, nil
	}
	ttl := config.Duration(cfg.Cache.EnhancedTTL, 24*time.Hour)
	return client, cache.NewEnhancedParameterCache(client.Client, ttl, logger)
}

// newHTTPServer applies the security timeouts. The write timeout leaves room for a
// synchronous optimization to finish.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	writeTimeout := 10 * time.Second
	if optimize := config.Duration(cfg.Tasks.OptimizationTimeout, 2*time.Minute) + 5*time.Second; optimize > writeTimeout {
		writeTimeout = optimize
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}
}
