package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/logging"
	"github.com/irfndi/esp-selector-go/internal/metrics"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/telemetry"
	"github.com/irfndi/esp-selector-go/internal/utils"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

// Operation names used for metrics and logs.
const (
	OpAdjustedCurve      = "get_adjusted_curve"
	OpOperatingZones     = "get_operating_zones"
	OpEnhancedParameters = "get_enhanced_parameters"
	OpOperatingPoint     = "find_operating_point"
	OpForecast           = "forecast_degradation"
	OpOptimize           = "optimize_configuration"
	OpSaveCurve          = "save_curve"
	OpAddMaintenance     = "add_maintenance_record"

	enhancedCacheName = "enhanced_parameters"
)

// PumpService is the entry point of the selection engine. It resolves curves through the
// CurveStore (falling back to a synthetic curve for unknown pumps) and delegates the
// computations to the engine components.
type PumpService struct {
	store       interfaces.CurveStore
	cache       interfaces.DerivedCache
	scaler      *CurveScaler
	solver      *IntersectionSolver
	estimator   *EnhancedParameterEstimator
	degradation *DegradationModel
	optimizer   *ConfigurationOptimizer
	metrics     *metrics.MetricsCollector
	tracer      *telemetry.EngineTracer
	log         *logging.StandardLogger
}

// NewPumpService wires the engine from configuration. cache and collector may be nil.
func NewPumpService(cfg *config.Config, store interfaces.CurveStore, cache interfaces.DerivedCache, collector *metrics.MetricsCollector, logger *slog.Logger) (*PumpService, error) {
	if store == nil {
		return nil, errors.New("pump service requires a curve store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	scaler, err := NewCurveScaler(cfg.Engine.ScalingStrategy)
	if err != nil {
		return nil, err
	}
	solver := NewIntersectionSolver(cfg.Engine.Intersection.GridPoints, cfg.Engine.Intersection.Tolerance)

	return &PumpService{
		store:       store,
		cache:       cache,
		scaler:      scaler,
		solver:      solver,
		estimator:   NewEnhancedParameterEstimator(cfg.Engine.Enhanced),
		degradation: NewDegradationModel(cfg.Engine.Degradation, logger.With("component", "degradation")),
		optimizer:   NewConfigurationOptimizer(scaler, solver, cfg.Engine.Optimizer, logger.With("component", "optimizer")),
		metrics:     collector,
		tracer:      telemetry.NewEngineTracer(nil),
		log:         logging.NewStandardLoggerFromSlog(logger.With("component", "pump_service")),
	}, nil
}

// ScalingStrategy reports the configured curve scaling strategy.
func (s *PumpService) ScalingStrategy() string {
	return s.scaler.Strategy
}

// BaseCurve returns the active curve of pumpID, or a synthetic placeholder when the store
// has none. Other store errors are returned as-is.
func (s *PumpService) BaseCurve(ctx context.Context, pumpID, operation string) (*models.PerformanceCurve, error) {
	curve, err := s.store.GetActiveCurve(ctx, pumpID)
	if err == nil {
		return curve, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, fmt.Errorf("failed to load curve for %s: %w", pumpID, err)
	}

	s.log.WithOperation(operation).Warn("No curve data for pump, using synthetic curve", "pump_id", pumpID)
	if s.metrics != nil {
		s.metrics.RecordSyntheticFallback(operation)
	}
	return SyntheticCurve(pumpID, 0), nil
}

// GetAdjustedCurve loads the pump's curve and scales it to stages and frequency.
func (s *PumpService) GetAdjustedCurve(ctx context.Context, pumpID string, stages int, frequency float64) (*models.AdjustedCurve, error) {
	return s.ResolveCurve(ctx, pumpID, &stages, &frequency)
}

// ResolveCurve is GetAdjustedCurve with an optional configuration: a nil stages or
// frequency keeps the value the base curve was measured at.
func (s *PumpService) ResolveCurve(ctx context.Context, pumpID string, stages *int, frequency *float64) (adjusted *models.AdjustedCurve, err error) {
	defer s.observe(OpAdjustedCurve, time.Now(), &err)

	base, err := s.BaseCurve(ctx, pumpID, OpAdjustedCurve)
	if err != nil {
		return nil, err
	}
	return s.ScaleCurve(base, stages, frequency)
}

// ScaleCurve scales a caller-supplied curve with the configured strategy. A nil stages or
// frequency keeps the curve's own value.
func (s *PumpService) ScaleCurve(base *models.PerformanceCurve, stages *int, frequency *float64) (*models.AdjustedCurve, error) {
	if base == nil {
		return nil, utils.InvalidCurvef("curve is required")
	}
	n, f := base.BaseStages, base.RatedFrequency
	if stages != nil {
		n = *stages
	}
	if frequency != nil {
		f = *frequency
	}
	return s.scaler.Scale(base, n, f)
}

// GetOperatingZones classifies the curve's flow range into operating zones.
func (s *PumpService) GetOperatingZones(curve *models.PerformanceCurve) models.OperatingZones {
	start := time.Now()
	zones := ClassifyZones(curve)
	s.observe(OpOperatingZones, start, nil)
	return zones
}

// GetEnhancedParameters returns the enhanced parameter set for curve. Lookups go cache,
// then store, then computation; computed sets are written back to both. Sets are only
// persisted for the pump's stored base configuration; scaled or synthetic curves are
// always computed.
func (s *PumpService) GetEnhancedParameters(ctx context.Context, pumpID string, curve *models.PerformanceCurve) (set *models.EnhancedParameterSet, err error) {
	defer s.observe(OpEnhancedParameters, time.Now(), &err)

	if curve == nil {
		return nil, utils.InvalidCurvef("curve is required")
	}
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	if !s.persistable(ctx, pumpID, curve) {
		s.recordCache("computed")
		return s.estimator.Estimate(curve), nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetEnhancedParameters(ctx, pumpID, curve.Version); ok && cached.Matches(curve) {
			s.recordCache("hit")
			cached.Source = models.EnhancedSourceCache
			return cached, nil
		}
		s.recordCache("miss")
	}

	stored, err := s.store.GetEnhancedParameters(ctx, pumpID, curve.Version)
	switch {
	case err == nil && stored.Matches(curve):
		s.recordCache("store")
		if s.cache != nil {
			s.cache.SetEnhancedParameters(ctx, stored)
		}
		stored.Source = models.EnhancedSourceStore
		return stored, nil
	case err == nil:
		s.log.WithPump(pumpID).Warn("Stored enhanced parameters do not match curve, recomputing",
			"records", len(stored.Records),
			"points", len(curve.Points),
		)
	case !errors.Is(err, utils.ErrNotFound):
		s.log.WithPump(pumpID).Warn("Failed to load enhanced parameters, recomputing", "error", err.Error())
	}

	computed := s.estimator.Estimate(curve)
	computed.PumpID = pumpID
	s.recordCache("computed")
	if err := s.store.SaveEnhancedParameters(ctx, computed); err != nil {
		s.log.WithPump(pumpID).Warn("Failed to persist enhanced parameters", "error", err.Error())
	}
	if s.cache != nil {
		s.cache.SetEnhancedParameters(ctx, computed)
	}
	return computed, nil
}

// persistable reports whether curve is the pump's active stored curve in its base configuration.
func (s *PumpService) persistable(ctx context.Context, pumpID string, curve *models.PerformanceCurve) bool {
	if pumpID == "" || curve.Synthetic || curve.Version == 0 {
		return false
	}
	active, err := s.store.GetActiveCurve(ctx, pumpID)
	if err != nil {
		return false
	}
	return active.Version == curve.Version &&
		active.BaseStages == curve.BaseStages &&
		active.RatedFrequency == curve.RatedFrequency
}

// FindOperatingPoint intersects the pump and system curves. A missing overlap or a best
// candidate outside tolerance is reported through Found=false and Reason, not as an error.
func (s *PumpService) FindOperatingPoint(ctx context.Context, pump *models.PerformanceCurve, system models.SystemCurve) (result models.OperatingPointResult, err error) {
	defer s.observe(OpOperatingPoint, time.Now(), &err)

	pumpID := ""
	if pump != nil {
		pumpID = pump.PumpID
	}
	ctx, span := s.tracer.Start(ctx, OpOperatingPoint, pumpID)
	defer func() {
		s.tracer.RecordOperatingPoint(span, result)
		telemetry.End(span, err)
	}()

	if pump == nil {
		return models.OperatingPointResult{}, utils.InvalidCurvef("pump curve is required")
	}
	if err := pump.Validate(); err != nil {
		return models.OperatingPointResult{}, err
	}
	if err := system.Validate(); err != nil {
		return models.OperatingPointResult{}, err
	}

	result, err = s.solver.Solve(ctx, pump, system)
	if err != nil {
		return models.OperatingPointResult{}, err
	}
	result.Synthetic = pump.Synthetic
	return result, nil
}

// ForecastDegradation forecasts curve's degradation over years. When pumpID is set the
// pump's maintenance history biases the model and the forecast is stored as a prediction.
// A nil curve is resolved from the store.
func (s *PumpService) ForecastDegradation(ctx context.Context, pumpID string, curve *models.PerformanceCurve, base models.BaseMetrics, years int) (forecast *models.DegradationForecast, err error) {
	defer s.observe(OpForecast, time.Now(), &err)

	ctx, span := s.tracer.Start(ctx, OpForecast, pumpID)
	defer func() {
		s.tracer.RecordForecast(span, forecast)
		telemetry.End(span, err)
	}()

	if curve == nil {
		if pumpID == "" {
			return nil, utils.InvalidConfigurationf("either a curve or a pump id is required")
		}
		if curve, err = s.BaseCurve(ctx, pumpID, OpForecast); err != nil {
			return nil, err
		}
	} else if err := curve.Validate(); err != nil {
		return nil, err
	}

	var history []models.MaintenanceRecord
	if pumpID != "" && !curve.Synthetic {
		history, err = s.store.GetMaintenanceHistory(ctx, pumpID)
		if err != nil {
			s.log.WithPump(pumpID).Warn("Maintenance history unavailable, using analytic model", "error", err.Error())
			history = nil
		}
	}

	forecast, err = s.degradation.Forecast(ctx, curve, base, years, history)
	if err != nil {
		return nil, err
	}
	if pumpID != "" {
		forecast.PumpID = pumpID
		s.savePrediction(ctx, pumpID, interfaces.PredictionDegradation, forecast)
	}
	return forecast, nil
}

// OptimizeConfiguration searches stages and frequency for pumpID's curve. A non-converged
// or infeasible search returns the populated result together with an error wrapping
// utils.ErrOptimizationDidNotConverge.
func (s *PumpService) OptimizeConfiguration(ctx context.Context, pumpID string, req models.OptimizationRequest) (result *models.OptimizationResult, err error) {
	defer s.observe(OpOptimize, time.Now(), &err)

	ctx, span := s.tracer.Start(ctx, OpOptimize, pumpID)
	defer func() {
		s.tracer.RecordOptimization(span, result)
		telemetry.End(span, err)
	}()

	curve, err := s.BaseCurve(ctx, pumpID, OpOptimize)
	if err != nil {
		return nil, err
	}

	result, err = s.optimizer.Optimize(ctx, curve, req)
	if result == nil {
		return nil, err
	}
	result.PumpID = pumpID
	if s.metrics != nil {
		s.metrics.RecordOptimizerEvaluations(result.Evaluations)
	}
	s.savePrediction(ctx, pumpID, interfaces.PredictionOptimization, result)
	return result, err
}

// SaveCurve stores curve as the pump's new active version and drops derived data cached
// for older versions.
func (s *PumpService) SaveCurve(ctx context.Context, curve *models.PerformanceCurve) (saved *models.PerformanceCurve, err error) {
	defer s.observe(OpSaveCurve, time.Now(), &err)

	if err := curve.Validate(); err != nil {
		return nil, err
	}
	saved, err = s.store.SaveCurve(ctx, curve)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, curve.PumpID)
	}
	s.log.LogBusinessEvent("curve_stored", map[string]interface{}{
		"pump_id": saved.PumpID,
		"version": saved.Version,
		"points":  len(saved.Points),
	})
	return saved, nil
}

// ListCurveVersions returns the stored versions of a pump's curve, newest first.
func (s *PumpService) ListCurveVersions(ctx context.Context, pumpID string) ([]models.PerformanceCurve, error) {
	return s.store.ListCurveVersions(ctx, pumpID)
}

// AddMaintenanceRecord stores a field observation used to bias later forecasts of the pump.
func (s *PumpService) AddMaintenanceRecord(ctx context.Context, record models.MaintenanceRecord) (saved *models.MaintenanceRecord, err error) {
	defer s.observe(OpAddMaintenance, time.Now(), &err)

	switch {
	case record.PumpID == "":
		return nil, utils.InvalidConfigurationf("maintenance record needs a pump id")
	case !(record.YearsInService >= 0) || math.IsInf(record.YearsInService, 0):
		return nil, utils.InvalidConfigurationf("years in service must be >= 0, got %v", record.YearsInService)
	case !(record.Efficiency >= 0 && record.Efficiency <= 100):
		return nil, utils.InvalidConfigurationf("efficiency must be within [0, 100], got %v", record.Efficiency)
	case record.MaintenanceCost.IsNegative():
		return nil, utils.InvalidConfigurationf("maintenance cost must not be negative")
	}
	if saved, err = s.store.AddMaintenanceRecord(ctx, record); err != nil {
		return nil, err
	}
	s.log.LogBusinessEvent("maintenance_recorded", map[string]interface{}{
		"pump_id":          saved.PumpID,
		"years_in_service": saved.YearsInService,
		"efficiency":       saved.Efficiency,
	})
	return saved, nil
}

func (s *PumpService) savePrediction(ctx context.Context, pumpID, kind string, payload any) {
	if err := s.store.SavePrediction(ctx, pumpID, kind, payload); err != nil {
		s.log.WithPump(pumpID).Warn("Failed to store prediction", "kind", kind, "error", err.Error())
	}
}

func (s *PumpService) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMetrics(enhancedCacheName, result)
	}
}

func (s *PumpService) observe(operation string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	if errp != nil && *errp != nil {
		switch {
		case errors.Is(*errp, utils.ErrOptimizationDidNotConverge):
			outcome = metrics.OutcomeNotConverged
		case errors.Is(*errp, utils.ErrNotFound):
			outcome = metrics.OutcomeNotFound
		default:
			outcome = metrics.OutcomeError
		}
	}
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}
