package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/services"
	"github.com/irfndi/esp-selector-go/internal/utils"
	"github.com/irfndi/esp-selector-go/internal/validation"
)

// AnalysisHandler serves operating point and degradation studies. Each study takes either
// an explicit pump curve or a pump id resolved through the curve store.
type AnalysisHandler struct {
	engine          PumpEngine
	tasks           TaskRunner
	validator       *validation.Validator
	forecastTimeout time.Duration
	logger          *slog.Logger
}

// CurveInput is an inline performance curve.
type CurveInput struct {
	Points         []models.CurvePoint `json:"points"`
	RatedFrequency float64             `json:"rated_frequency"`
	BaseStages     int                 `json:"base_stages"`
}

// PumpSelector picks the pump curve of a study: PumpCurve wins over PumpID.
type PumpSelector struct {
	PumpID    string      `json:"pump_id,omitempty"`
	PumpCurve *CurveInput `json:"pump_curve,omitempty"`
	Stages    *int        `json:"stages,omitempty"`
	Frequency *float64    `json:"frequency,omitempty"`
}

type OperatingPointRequest struct {
	PumpSelector
	SystemCurve models.SystemCurve `json:"system_curve"`
}

type ForecastRequest struct {
	PumpSelector
	BaseMetrics models.BaseMetrics `json:"base_metrics"`
	Years       int                `json:"years" validate:"gte=0"`
}

func NewAnalysisHandler(engine PumpEngine, tasks TaskRunner, forecastTimeout time.Duration, logger *slog.Logger) *AnalysisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisHandler{
		engine:          engine,
		tasks:           tasks,
		validator:       validation.NewEngineValidator(),
		forecastTimeout: forecastTimeout,
		logger:          logger.With("component", "analysis_handler"),
	}
}

// curve resolves the selector into a performance curve scaled to the requested
// stages and frequency.
func (h *AnalysisHandler) curve(ctx context.Context, sel PumpSelector) (*models.PerformanceCurve, error) {
	if sel.PumpID != "" && !validation.ValidPumpID(sel.PumpID) {
		return nil, utils.InvalidConfigurationf("invalid pump id %q", sel.PumpID)
	}
	if sel.PumpCurve != nil {
		stages := sel.PumpCurve.BaseStages
		if stages == 0 {
			stages = 1
		}
		curve, err := models.NewPerformanceCurve(sel.PumpID, sel.PumpCurve.Points, sel.PumpCurve.RatedFrequency, stages)
		if err != nil {
			return nil, err
		}
		if sel.Stages == nil && sel.Frequency == nil {
			return curve, nil
		}
		adjusted, err := h.engine.ScaleCurve(curve, sel.Stages, sel.Frequency)
		if err != nil {
			return nil, err
		}
		return &adjusted.PerformanceCurve, nil
	}
	if sel.PumpID == "" {
		return nil, utils.InvalidConfigurationf("either pump_curve or pump_id is required")
	}
	adjusted, err := h.engine.ResolveCurve(ctx, sel.PumpID, sel.Stages, sel.Frequency)
	if err != nil {
		return nil, err
	}
	return &adjusted.PerformanceCurve, nil
}

// FindOperatingPoint intersects the selected pump curve with the system curve. A missing
// intersection is a 200 with found=false and a reason.
func (h *AnalysisHandler) FindOperatingPoint(c *gin.Context) {
	var req OperatingPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(req.SystemCurve); err != nil {
		respondError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	curve, err := h.curve(ctx, req.PumpSelector)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	result, err := h.engine.FindOperatingPoint(ctx, curve, req.SystemCurve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AnalysisHandler) bindForecast(c *gin.Context) (ForecastRequest, bool) {
	var req ForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(c, h.logger, err)
		return req, false
	}
	if req.PumpCurve == nil && req.PumpID == "" {
		respondError(c, h.logger, utils.InvalidConfigurationf("either pump_curve or pump_id is required"))
		return req, false
	}
	return req, true
}

// forecast runs the forecast for req. A stored pump without explicit configuration is
// passed by id so the service can use its maintenance history.
func (h *AnalysisHandler) forecast(ctx context.Context, req ForecastRequest) (*models.DegradationForecast, error) {
	if req.PumpCurve == nil && req.Stages == nil && req.Frequency == nil {
		return h.engine.ForecastDegradation(ctx, req.PumpID, nil, req.BaseMetrics, req.Years)
	}
	curve, err := h.curve(ctx, req.PumpSelector)
	if err != nil {
		return nil, err
	}
	return h.engine.ForecastDegradation(ctx, req.PumpID, curve, req.BaseMetrics, req.Years)
}

// Forecast runs a degradation forecast synchronously.
func (h *AnalysisHandler) Forecast(c *gin.Context) {
	req, ok := h.bindForecast(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if h.forecastTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.forecastTimeout)
		defer cancel()
	}

	forecast, err := h.forecast(ctx, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, forecast)
}

// ForecastAsync queues a degradation forecast and returns the pending task.
func (h *AnalysisHandler) ForecastAsync(c *gin.Context) {
	req, ok := h.bindForecast(c)
	if !ok {
		return
	}
	task := h.tasks.Submit(services.TaskKindForecast, h.forecastTimeout, func(ctx context.Context) (any, error) {
		forecast, err := h.forecast(ctx, req)
		if err != nil {
			return nil, err
		}
		return forecast, nil
	})
	c.Header("Location", "/api/v1/tasks/"+task.ID)
	c.JSON(http.StatusAccepted, task)
}
