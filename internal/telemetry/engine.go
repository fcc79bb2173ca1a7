package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/esp-selector-go/internal/models"
)

const engineTracerName = "github.com/irfndi/esp-selector-go/internal/services"

// EngineTracer creates spans around pump engine operations.
type EngineTracer struct {
	tracer trace.Tracer
}

// NewEngineTracer uses provider, or the global provider when nil.
func NewEngineTracer(provider trace.TracerProvider) *EngineTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &EngineTracer{tracer: provider.Tracer(engineTracerName)}
}

// Start opens a span named "engine.<operation>" tagged with the pump id.
func (et *EngineTracer) Start(ctx context.Context, operation, pumpID string) (context.Context, trace.Span) {
	return et.tracer.Start(ctx, "engine."+operation, trace.WithAttributes(
		attribute.String("engine.operation", operation),
		attribute.String("pump.id", pumpID),
	))
}

// RecordOperatingPoint annotates span with an intersection result.
func (et *EngineTracer) RecordOperatingPoint(span trace.Span, result models.OperatingPointResult) {
	span.SetAttributes(
		attribute.Bool("operating_point.found", result.Found),
		attribute.Bool("curve.synthetic", result.Synthetic),
	)
	if result.Point != nil {
		span.SetAttributes(
			attribute.Float64("operating_point.flow", result.Point.Flow),
			attribute.Float64("operating_point.head", result.Point.Head),
			attribute.String("operating_point.zone", string(result.Point.Zone)),
		)
	} else {
		span.SetAttributes(attribute.String("operating_point.reason", result.Reason))
	}
}

// RecordForecast annotates span with the outcome of a degradation forecast.
func (et *EngineTracer) RecordForecast(span trace.Span, forecast *models.DegradationForecast) {
	if forecast == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("forecast.years", forecast.Years),
		attribute.String("forecast.action", forecast.Recommendation.Action),
		attribute.Float64("forecast.history_bias", forecast.Trend.HistoryBias),
		attribute.Bool("curve.synthetic", forecast.Synthetic),
	)
	if forecast.Trend.CriticalYear != nil {
		span.SetAttributes(attribute.Int("forecast.critical_year", *forecast.Trend.CriticalYear))
	}
}

// RecordOptimization annotates span with the optimizer outcome.
func (et *EngineTracer) RecordOptimization(span trace.Span, result *models.OptimizationResult) {
	if result == nil {
		return
	}
	span.SetAttributes(
		attribute.String("optimization.objective", string(result.Objective)),
		attribute.Int("optimization.best.stages", result.Best.Stages),
		attribute.Float64("optimization.best.frequency", result.Best.Frequency),
		attribute.Bool("optimization.best.feasible", result.Best.Feasible),
		attribute.Int("optimization.evaluations", result.Evaluations),
		attribute.Bool("optimization.converged", result.Converged),
		attribute.Bool("curve.synthetic", result.Synthetic),
	)
}

// End records err on span and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
