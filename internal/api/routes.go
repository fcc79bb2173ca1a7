package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/api/handlers"
	"github.com/irfndi/esp-selector-go/internal/logging"
	"github.com/irfndi/esp-selector-go/internal/metrics"
	"github.com/irfndi/esp-selector-go/internal/middleware"
)

// Dependencies are the services the HTTP layer is built on. Cache and the entries of
// HealthChecks may be nil when Redis or Postgres are not configured.
type Dependencies struct {
	Engine          handlers.PumpEngine
	Tasks           handlers.TaskRunner
	Cache           handlers.CacheAdmin
	Metrics         *metrics.MetricsCollector
	Logger          *logging.StandardLogger
	AuthMiddleware  *middleware.AuthMiddleware
	AdminMiddleware *middleware.AdminMiddleware
	HealthChecks    map[string]handlers.HealthChecker
	Version         string
	OptimizeTimeout time.Duration
	ForecastTimeout time.Duration
}

// SetupRoutes registers the health, metrics and /api/v1 routes on router.
//
// Curve uploads and maintenance records require an operator JWT; the admin cache routes
// require the admin API key.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	var logger *slog.Logger
	var apiLogger logging.Logger
	if deps.Logger != nil {
		logger = deps.Logger.Logger()
		apiLogger = deps.Logger
	}

	healthHandler := handlers.NewHealthHandler(deps.Version, deps.HealthChecks)
	router.GET("/health", gin.WrapF(healthHandler.HealthCheck))
	router.HEAD("/health", gin.WrapF(healthHandler.HealthCheck))
	router.GET("/ready", gin.WrapF(healthHandler.ReadinessCheck))
	router.GET("/live", gin.WrapF(healthHandler.LivenessCheck))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	pumpHandler := handlers.NewPumpHandler(deps.Engine, deps.Tasks, deps.OptimizeTimeout, logger)
	analysisHandler := handlers.NewAnalysisHandler(deps.Engine, deps.Tasks, deps.ForecastTimeout, logger)
	taskHandler := handlers.NewTaskHandler(deps.Tasks, logger)
	cacheHandler := handlers.NewCacheHandler(deps.Cache)

	auth := deps.AuthMiddleware
	admin := deps.AdminMiddleware
	if admin == nil {
		admin = middleware.NewAdminMiddleware("")
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequestID(), middleware.RequestMetrics(deps.Metrics, apiLogger))
	if auth != nil {
		v1.Use(auth.OptionalAuth())
	}
	{
		pumps := v1.Group("/pumps/:pump_id")
		{
			pumps.GET("/curve", pumpHandler.GetCurve)
			pumps.GET("/curve/versions", pumpHandler.ListCurveVersions)
			pumps.GET("/enhanced-parameters", pumpHandler.GetEnhancedParameters)
			pumps.POST("/optimize", pumpHandler.Optimize)
			pumps.POST("/optimize/async", pumpHandler.OptimizeAsync)

			protected := pumps.Group("")
			if auth != nil {
				protected.Use(auth.RequireAuth())
			}
			protected.POST("/curve", pumpHandler.SaveCurve)
			protected.POST("/maintenance", pumpHandler.AddMaintenanceRecord)
		}

		v1.POST("/operating-point", analysisHandler.FindOperatingPoint)

		degradation := v1.Group("/degradation")
		{
			degradation.POST("/forecast", analysisHandler.Forecast)
			degradation.POST("/forecast/async", analysisHandler.ForecastAsync)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.DELETE("/:id", taskHandler.CancelTask)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(admin.RequireAdminAuth())
		{
			adminGroup.GET("/cache/stats", cacheHandler.GetCacheStats)
			adminGroup.POST("/cache/clear", cacheHandler.ClearCache)
			adminGroup.DELETE("/cache/pumps/:pump_id", cacheHandler.InvalidatePump)
		}
	}
}
