package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/middleware"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/services"
	"github.com/irfndi/esp-selector-go/internal/utils"
	"github.com/irfndi/esp-selector-go/internal/validation"
)

// PumpEngine is the subset of services.PumpService used by the HTTP layer.
type PumpEngine interface {
	ResolveCurve(ctx context.Context, pumpID string, stages *int, frequency *float64) (*models.AdjustedCurve, error)
	ScaleCurve(base *models.PerformanceCurve, stages *int, frequency *float64) (*models.AdjustedCurve, error)
	GetOperatingZones(curve *models.PerformanceCurve) models.OperatingZones
	GetEnhancedParameters(ctx context.Context, pumpID string, curve *models.PerformanceCurve) (*models.EnhancedParameterSet, error)
	FindOperatingPoint(ctx context.Context, pump *models.PerformanceCurve, system models.SystemCurve) (models.OperatingPointResult, error)
	ForecastDegradation(ctx context.Context, pumpID string, curve *models.PerformanceCurve, base models.BaseMetrics, years int) (*models.DegradationForecast, error)
	OptimizeConfiguration(ctx context.Context, pumpID string, req models.OptimizationRequest) (*models.OptimizationResult, error)
	SaveCurve(ctx context.Context, curve *models.PerformanceCurve) (*models.PerformanceCurve, error)
	ListCurveVersions(ctx context.Context, pumpID string) ([]models.PerformanceCurve, error)
	AddMaintenanceRecord(ctx context.Context, record models.MaintenanceRecord) (*models.MaintenanceRecord, error)
}

// TaskRunner is the subset of services.TaskManager used by the HTTP layer.
type TaskRunner interface {
	Submit(kind string, timeout time.Duration, fn services.TaskFunc) services.Task
	Get(id string) (services.Task, error)
	Cancel(id string) (services.Task, error)
	List() []services.Task
}

// PumpHandler serves the per-pump curve, enhanced parameter, maintenance and
// optimization endpoints.
type PumpHandler struct {
	engine          PumpEngine
	tasks           TaskRunner
	validator       *validation.Validator
	optimizeTimeout time.Duration
	logger          *slog.Logger
}

func NewPumpHandler(engine PumpEngine, tasks TaskRunner, optimizeTimeout time.Duration, logger *slog.Logger) *PumpHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PumpHandler{
		engine:          engine,
		tasks:           tasks,
		validator:       validation.NewEngineValidator(),
		optimizeTimeout: optimizeTimeout,
		logger:          logger.With("component", "pump_handler"),
	}
}

// CurveResponse is the body of GET /pumps/:pump_id/curve.
type CurveResponse struct {
	Curve     *models.AdjustedCurve `json:"curve"`
	Zones     models.OperatingZones `json:"zones"`
	Synthetic bool                  `json:"synthetic"`
}

// CurveUpload is the body of POST /pumps/:pump_id/curve.
type CurveUpload struct {
	Points         []models.CurvePoint `json:"points"`
	RatedFrequency float64             `json:"rated_frequency"`
	BaseStages     int                 `json:"base_stages"`
	DataSource     string              `json:"data_source"`
	VersionTag     string              `json:"version_tag"`
}

// OptimizeResponse carries a result and, for a search that did not converge, the warning.
type OptimizeResponse struct {
	Result  *models.OptimizationResult `json:"result"`
	Warning string                     `json:"warning,omitempty"`
}

func (h *PumpHandler) pumpID(c *gin.Context) (string, bool) {
	id := c.Param("pump_id")
	if !validation.ValidPumpID(id) {
		badRequest(c, "Invalid pump id", nil)
		return "", false
	}
	return id, true
}

// resolve reads the optional stages/frequency query and returns the adjusted curve.
func (h *PumpHandler) resolve(c *gin.Context, pumpID string) (*models.AdjustedCurve, bool) {
	stages, err := optionalInt(c, "stages")
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	frequency, err := optionalFloat(c, "frequency")
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	curve, err := h.engine.ResolveCurve(c.Request.Context(), pumpID, stages, frequency)
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	return curve, true
}

// GetCurve returns the pump's curve adjusted to ?stages=&frequency= with its operating zones.
func (h *PumpHandler) GetCurve(c *gin.Context) {
	pumpID, ok := h.pumpID(c)
	if !ok {
		return
	}
	curve, ok := h.resolve(c, pumpID)
	if !ok {
		return
	}
	middleware.AddSpanAttribute(c, "pump.synthetic", curve.Synthetic)

	c.JSON(http.StatusOK, CurveResponse{
		Curve:     curve,
		Zones:     h.engine.GetOperatingZones(&curve.PerformanceCurve),
		Synthetic: curve.Synthetic,
	})
}

// SaveCurve stores a new active curve version for the pump.
func (h *PumpHandler) SaveCurve(c *gin.Context) {
	pumpID, ok := h.pumpID(c)
	if !ok {
		return
	}
	var req CurveUpload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	curve := &models.PerformanceCurve{
		PumpID:         pumpID,
		Points:         req.Points,
		RatedFrequency: req.RatedFrequency,
		BaseStages:     req.BaseStages,
		DataSource:     req.DataSource,
		VersionTag:     req.VersionTag,
	}
	if curve.BaseStages == 0 {
		curve.BaseStages = 1
	}
	if curve.DataSource == "" {
		curve.DataSource = models.DataSourceVendor
	}

	saved, err := h.engine.SaveCurve(c.Request.Context(), curve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Curve uploaded",
		"pump_id", pumpID,
		"version", saved.Version,
		"operator_id", middleware.OperatorID(c),
	)
	c.JSON(http.StatusCreated, saved)
}

// ListCurveVersions returns the stored curve versions, newest first.
func (h *PumpHandler) ListCurveVersions(c *gin.Context) {
	pumpID, ok := h.pumpID(c)
	if !ok {
		return
	}
	versions, err := h.engine.ListCurveVersions(c.Request.Context(), pumpID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pump_id": pumpID, "versions": versions, "count": len(versions)})
}

// GetEnhancedParameters returns the per-sample secondary parameters of the adjusted curve.
func (h *PumpHandler) GetEnhancedParameters(c *gin.Context) {
	pumpID, ok := h.pumpID(c)
	if !ok {
		return
	}
	curve, ok := h.resolve(c, pumpID)
	if !ok {
		return
	}
	set, err := h.engine.GetEnhancedParameters(c.Request.Context(), pumpID, &curve.PerformanceCurve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parameters": set, "synthetic": curve.Synthetic})
}

// AddMaintenanceRecord stores a field observation for the pump.
func (h *PumpHandler) AddMaintenanceRecord(c *gin.Context) {
	pumpID, ok := h.pumpID(c)
	if !ok {
		return
	}
	var record models.MaintenanceRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	record.ID = 0
	record.PumpID = pumpID

	saved, err := h.engine.AddMaintenanceRecord(c.Request.Context(), record)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *PumpHandler) bindOptimization(c *gin.Context) (string, models.OptimizationRequest, bool) {
	var req models.OptimizationRequest
	pumpID, ok := h.pumpID(c)
	if !ok {
		return "", req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return "", req, false
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(c, h.logger, err)
		return "", req, false
	}
	return pumpID, req, true
}

// Optimize runs the configuration search synchronously. A search that did not converge
// still answers 200 with the best-effort result and a warning.
func (h *PumpHandler) Optimize(c *gin.Context) {
	pumpID, req, ok := h.bindOptimization(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if h.optimizeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.optimizeTimeout)
		defer cancel()
	}

	result, err := h.engine.OptimizeConfiguration(ctx, pumpID, req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, OptimizeResponse{Result: result})
	case errors.Is(err, utils.ErrOptimizationDidNotConverge) && result != nil:
		c.JSON(http.StatusOK, OptimizeResponse{Result: result, Warning: err.Error()})
	default:
		respondError(c, h.logger, err)
	}
}

// OptimizeAsync queues the configuration search and returns the pending task.
func (h *PumpHandler) OptimizeAsync(c *gin.Context) {
	pumpID, req, ok := h.bindOptimization(c)
	if !ok {
		return
	}

	task := h.tasks.Submit(services.TaskKindOptimize, h.optimizeTimeout, func(ctx context.Context) (any, error) {
		result, err := h.engine.OptimizeConfiguration(ctx, pumpID, req)
		if result == nil {
			return nil, err
		}
		return result, err
	})
	c.Header("Location", "/api/v1/tasks/"+task.ID)
	c.JSON(http.StatusAccepted, task)
}
