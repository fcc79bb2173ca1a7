package services

import (
	"context"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

// IntersectionSolver locates the flow at which pump head equals system head.
type IntersectionSolver struct {
	GridPoints int     // Samples on the overlap grid
	Tolerance  float64 // Largest accepted |pump head - system head|
}

// NewIntersectionSolver creates a solver. Non-positive arguments fall back to 1000 points and 5 head units.
func NewIntersectionSolver(gridPoints int, tolerance float64) *IntersectionSolver {
	if gridPoints < 2 {
		gridPoints = 1000
	}
	if tolerance <= 0 {
		tolerance = 5
	}
	return &IntersectionSolver{GridPoints: gridPoints, Tolerance: tolerance}
}

// Overlap returns the flow interval on which both curves are defined.
// ok is false when the domains are disjoint.
func (s *IntersectionSolver) Overlap(pump *models.PerformanceCurve, system models.SystemCurve) (models.FlowRange, bool) {
	sys := system.Domain(pump.MaxFlow())
	r := models.FlowRange{
		Min: math.Max(pump.MinFlow(), sys.Min),
		Max: math.Min(pump.MaxFlow(), sys.Max),
	}
	return r, r.Min <= r.Max
}

// Intersect returns the operating point, or nil when the curves do not overlap or
// never come within tolerance of each other. Errors are reserved for invalid input
// and cancellation.
func (s *IntersectionSolver) Intersect(ctx context.Context, pump *models.PerformanceCurve, system models.SystemCurve) (*models.OperatingPoint, error) {
	res, err := s.Solve(ctx, pump, system)
	if err != nil {
		return nil, err
	}
	return res.Point, nil
}

// Solve is Intersect with the reason a point was not found.
func (s *IntersectionSolver) Solve(ctx context.Context, pump *models.PerformanceCurve, system models.SystemCurve) (models.OperatingPointResult, error) {
	if pump == nil {
		return models.OperatingPointResult{}, utils.InvalidCurvef("pump curve is required")
	}
	if err := system.Validate(); err != nil {
		return models.OperatingPointResult{}, err
	}

	overlap, ok := s.Overlap(pump, system)
	if !ok {
		return models.OperatingPointResult{Reason: models.NoPointEmptyOverlap, Synthetic: pump.Synthetic}, nil
	}

	ev := newCurveEvaluator(pump)

	n := s.GridPoints
	step := 0.0
	if overlap.Max > overlap.Min {
		step = (overlap.Max - overlap.Min) / float64(n-1)
	} else {
		n = 1
	}

	bestFlow, bestDiff := overlap.Min, math.Inf(1)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return models.OperatingPointResult{}, err
			}
		}
		q := overlap.Min + float64(i)*step
		if i == n-1 {
			q = overlap.Max
		}
		diff := math.Abs(ev.head.Predict(q) - system.HeadAt(q))
		if diff < bestDiff {
			bestFlow, bestDiff = q, diff
		}
	}

	if !(bestDiff < s.Tolerance) {
		return models.OperatingPointResult{Reason: models.NoPointOutsideTolerance, Synthetic: pump.Synthetic}, nil
	}

	point := ev.at(bestFlow)
	point.HeadMismatch = bestDiff
	return models.OperatingPointResult{Found: true, Point: &point, Synthetic: pump.Synthetic}, nil
}

// EvaluateAt interpolates the curve at a supplied flow. Flows outside the sampled
// domain are rejected.
func (s *IntersectionSolver) EvaluateAt(curve *models.PerformanceCurve, flow float64) (*models.OperatingPoint, error) {
	if math.IsNaN(flow) || flow < curve.MinFlow() || flow > curve.MaxFlow() {
		return nil, utils.InvalidConfigurationf("flow %v outside curve domain [%v, %v]", flow, curve.MinFlow(), curve.MaxFlow())
	}
	point := newCurveEvaluator(curve).at(flow)
	return &point, nil
}

// curveEvaluator holds fitted interpolants for every curve column.
type curveEvaluator struct {
	head, power, efficiency interp.Predictor
	zones                   models.OperatingZones
}

func newCurveEvaluator(curve *models.PerformanceCurve) *curveEvaluator {
	xs := curve.Flows()
	return &curveEvaluator{
		head:       fitInterpolant(xs, curve.Heads()),
		power:      fitInterpolant(xs, curve.Powers()),
		efficiency: fitInterpolant(xs, curve.Efficiencies()),
		zones:      ClassifyZones(curve),
	}
}

func (e *curveEvaluator) at(flow float64) models.OperatingPoint {
	return models.OperatingPoint{
		Flow:       flow,
		Head:       math.Max(0, e.head.Predict(flow)),
		Power:      math.Max(0, e.power.Predict(flow)),
		Efficiency: math.Min(100, math.Max(0, e.efficiency.Predict(flow))),
		Zone:       e.zones.Classify(flow),
	}
}

// fitInterpolant fits a natural cubic spline when there are enough samples,
// otherwise a piecewise linear interpolant.
func fitInterpolant(xs, ys []float64) interp.Predictor {
	if len(xs) >= 3 {
		var nc interp.NaturalCubic
		if err := nc.Fit(xs, ys); err == nil {
			return &nc
		}
	}
	var pl interp.PiecewiseLinear
	_ = pl.Fit(xs, ys)
	return &pl
}
