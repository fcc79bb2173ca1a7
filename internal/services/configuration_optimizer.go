package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/optimize"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

const (
	constraintPenalty = 1e6
	boxPenalty        = 1e3

	multiWeightEfficiency = 0.4
	multiWeightPower      = 0.3
	multiWeightCost       = 0.3

	alternativeStageSpread = 2
	alternativeFreqSpread  = 3.0

	violationNoOperatingPoint = "no_operating_point"
)

// ConfigurationOptimizer searches (stages, frequency) for the best value of an objective
// under operating constraints.
type ConfigurationOptimizer struct {
	scaler *CurveScaler
	solver *IntersectionSolver

	MaxGenerations        int
	PopulationSize        int
	Alternatives          int
	Seed                  uint64
	StepSize              float64
	Timeout               time.Duration
	StageCost             decimal.Decimal
	OperatingHoursPerYear float64
	ElectricityRate       decimal.Decimal

	logger *slog.Logger
}

// NewConfigurationOptimizer creates an optimizer using scaler and solver for candidate evaluation.
func NewConfigurationOptimizer(scaler *CurveScaler, solver *IntersectionSolver, cfg config.OptimizerConfig, logger *slog.Logger) *ConfigurationOptimizer {
	if logger == nil {
		logger = slog.Default()
	}
	o := &ConfigurationOptimizer{
		scaler:                scaler,
		solver:                solver,
		MaxGenerations:        cfg.MaxGenerations,
		PopulationSize:        cfg.PopulationSize,
		Alternatives:          cfg.Alternatives,
		Seed:                  cfg.Seed,
		StepSize:              cfg.StepSize,
		Timeout:               config.Duration(cfg.Timeout, 30*time.Second),
		StageCost:             decimal.NewFromFloat(cfg.StageCost),
		OperatingHoursPerYear: cfg.OperatingHoursPerYear,
		ElectricityRate:       decimal.NewFromFloat(cfg.ElectricityRate),
		logger:                logger,
	}
	if o.MaxGenerations <= 0 {
		o.MaxGenerations = 60
	}
	if o.StepSize <= 0 {
		o.StepSize = 0.3
	}
	if o.Alternatives < 0 {
		o.Alternatives = 0
	}
	return o
}

// Optimize runs the search. When the budget runs out or no feasible candidate exists the
// populated result is returned together with an error wrapping ErrOptimizationDidNotConverge.
func (o *ConfigurationOptimizer) Optimize(ctx context.Context, curve *models.PerformanceCurve, req models.OptimizationRequest) (*models.OptimizationResult, error) {
	if err := o.validate(curve, req); err != nil {
		return nil, err
	}
	start := time.Now()

	ev := &candidateEvaluator{
		ctx:       ctx,
		optimizer: o,
		curve:     curve,
		req:       req,
		memo:      make(map[candidateKey]models.Solution),
		powerRef:  1,
		costRef:   1,
	}
	if req.Objective == models.ObjectiveMultiObjective {
		ev.setReferences()
	}

	seed := req.Seed
	if seed == 0 {
		seed = o.Seed
	}

	result := &models.OptimizationResult{
		ID:              uuid.New().String(),
		PumpID:          curve.PumpID,
		Objective:       req.Objective,
		Synthetic:       curve.Synthetic,
		ScalingStrategy: o.scaler.Strategy,
	}

	dims := activeDimensions(req.SearchSpace)
	if len(dims) == 0 {
		best := ev.evaluate(req.SearchSpace.Stages.Min, req.SearchSpace.Frequency.Min)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Best = best
		result.Converged = true
		result.Status = "SingleCandidate"
	} else {
		status, iterations, err := o.search(ctx, ev, dims, seed)
		if err != nil {
			return nil, err
		}
		result.Best = ev.best
		result.Iterations = iterations
		result.Status = status.String()
		result.Converged = !status.Early()
		if !result.Converged {
			result.Notes = append(result.Notes, fmt.Sprintf("search stopped before convergence: %s", status))
		}
	}

	result.Alternatives = o.alternatives(ev, result.Best, req.SearchSpace, seed)
	result.Sensitivity = o.sensitivity(ev, result.Best, req.SearchSpace)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var softErr error
	if !result.Best.Feasible {
		result.Converged = false
		result.Notes = append(result.Notes, models.NoteInfeasible)
		softErr = fmt.Errorf("%w: %s", utils.ErrOptimizationDidNotConverge, models.NoteInfeasible)
	} else if !result.Converged {
		softErr = fmt.Errorf("%w after %d generations (%s)", utils.ErrOptimizationDidNotConverge, result.Iterations, result.Status)
	}

	result.Evaluations = ev.evaluations
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now().UTC()

	o.logger.Info("Configuration optimization finished",
		"pump_id", curve.PumpID,
		"objective", string(req.Objective),
		"stages", result.Best.Stages,
		"frequency", result.Best.Frequency,
		"converged", result.Converged,
		"iterations", result.Iterations,
		"evaluations", result.Evaluations,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, softErr
}

func (o *ConfigurationOptimizer) validate(curve *models.PerformanceCurve, req models.OptimizationRequest) error {
	if curve == nil {
		return utils.InvalidCurvef("base curve is required")
	}
	ss := req.SearchSpace
	if ss.Stages.Min < 1 {
		return utils.InvalidConfigurationf("stages lower bound must be >= 1, got %d", ss.Stages.Min)
	}
	if ss.Stages.Max < ss.Stages.Min {
		return utils.InvalidConfigurationf("stages bounds [%d, %d] are inverted", ss.Stages.Min, ss.Stages.Max)
	}
	for _, v := range []float64{ss.Frequency.Min, ss.Frequency.Max} {
		if !(v > 0) || math.IsInf(v, 0) {
			return utils.InvalidConfigurationf("frequency bounds must be positive and finite, got [%v, %v]", ss.Frequency.Min, ss.Frequency.Max)
		}
	}
	if ss.Frequency.Max < ss.Frequency.Min {
		return utils.InvalidConfigurationf("frequency bounds [%v, %v] are inverted", ss.Frequency.Min, ss.Frequency.Max)
	}
	if !req.Objective.Valid() {
		return utils.InvalidConfigurationf("unknown objective %q", req.Objective)
	}
	c := req.Constraints
	if c.MinEfficiency < 0 || c.MinEfficiency > 100 || c.MaxPower < 0 || c.MinFlow < 0 {
		return utils.InvalidConfigurationf("constraints must be non-negative and min_efficiency <= 100")
	}
	if req.SystemCurve != nil {
		if err := req.SystemCurve.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// search runs CMA-ES over the normalised non-degenerate dimensions.
func (o *ConfigurationOptimizer) search(ctx context.Context, ev *candidateEvaluator, dims []dimension, seed uint64) (optimize.Status, int, error) {
	space := ev.req.SearchSpace
	decode := func(x []float64) (int, float64, float64) {
		stages, freq := space.Stages.Min, space.Frequency.Min
		penalty := 0.0
		for i, d := range dims {
			u := x[i]
			if u < 0 {
				penalty += u * u
				u = 0
			} else if u > 1 {
				penalty += (u - 1) * (u - 1)
				u = 1
			}
			switch d {
			case dimStages:
				stages = int(math.Round(float64(space.Stages.Min) + u*float64(space.Stages.Max-space.Stages.Min)))
			case dimFrequency:
				freq = space.Frequency.Min + u*(space.Frequency.Max-space.Frequency.Min)
			}
		}
		return stages, freq, boxPenalty * penalty
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			stages, freq, penalty := decode(x)
			return ev.score(ev.evaluate(stages, freq)) + penalty
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	x0 := make([]float64, len(dims))
	for i := range x0 {
		x0[i] = 0.5
	}

	settings := &optimize.Settings{
		MajorIterations: o.MaxGenerations,
		Runtime:         o.Timeout,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 10,
		},
	}
	method := &optimize.CmaEsChol{
		InitStepSize: o.StepSize,
		Population:   o.PopulationSize,
		Src:          rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return optimize.Failure, 0, fmt.Errorf("optimization cancelled: %w", ctxErr)
	}
	if err != nil {
		return optimize.Failure, 0, fmt.Errorf("optimization failed: %w", err)
	}
	return res.Status, res.Stats.MajorIterations, nil
}

// alternatives evaluates random neighbours of best inside the search box.
func (o *ConfigurationOptimizer) alternatives(ev *candidateEvaluator, best models.Solution, space models.SearchSpace, seed uint64) []models.Solution {
	if o.Alternatives == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed+1, seed^0xda942042e4dd58b5))
	seen := map[candidateKey]bool{keyOf(best.Stages, best.Frequency): true}
	out := make([]models.Solution, 0, o.Alternatives)

	for attempt := 0; attempt < o.Alternatives*8 && len(out) < o.Alternatives; attempt++ {
		stages := clampInt(best.Stages+rng.IntN(2*alternativeStageSpread+1)-alternativeStageSpread, space.Stages.Min, space.Stages.Max)
		freq := clampFloat(best.Frequency+(rng.Float64()*2-1)*alternativeFreqSpread, space.Frequency.Min, space.Frequency.Max)
		key := keyOf(stages, freq)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev.evaluate(stages, freq))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return ev.better(out[i], out[j])
	})
	return out
}

type dimension int

const (
	dimStages dimension = iota
	dimFrequency
)

func activeDimensions(space models.SearchSpace) []dimension {
	var dims []dimension
	if !space.Stages.Degenerate() {
		dims = append(dims, dimStages)
	}
	if !space.Frequency.Degenerate() {
		dims = append(dims, dimFrequency)
	}
	return dims
}

type candidateKey struct {
	stages int
	freq   float64
}

func keyOf(stages int, freq float64) candidateKey {
	return candidateKey{stages: stages, freq: math.Round(freq*1e6) / 1e6}
}

// candidateEvaluator computes and memoises the metrics of (stages, frequency) candidates.
type candidateEvaluator struct {
	ctx       context.Context
	optimizer *ConfigurationOptimizer
	curve     *models.PerformanceCurve
	req       models.OptimizationRequest

	mu          sync.Mutex
	memo        map[candidateKey]models.Solution
	evaluations int
	best        models.Solution
	hasBest     bool

	powerRef, costRef float64
}

func (e *candidateEvaluator) evaluate(stages int, freq float64) models.Solution {
	key := keyOf(stages, freq)
	e.mu.Lock()
	if s, ok := e.memo[key]; ok {
		e.mu.Unlock()
		return s
	}
	e.mu.Unlock()

	s := e.compute(stages, freq)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[key] = s
	e.evaluations++
	if !e.hasBest || e.better(s, e.best) {
		e.best, e.hasBest = s, true
	}
	return s
}

func (e *candidateEvaluator) compute(stages int, freq float64) models.Solution {
	o := e.optimizer
	s := models.Solution{Stages: stages, Frequency: freq}

	adjusted, err := o.scaler.Scale(e.curve, stages, freq)
	if err != nil {
		s.Violations = append(s.Violations, err.Error())
		s.ObjectiveValue = math.Inf(1)
		return s
	}

	var point models.OperatingPoint
	if e.req.SystemCurve != nil {
		res, err := o.solver.Solve(e.ctx, &adjusted.PerformanceCurve, *e.req.SystemCurve)
		if err == nil && res.Found {
			point = *res.Point
		} else {
			s.Violations = append(s.Violations, violationNoOperatingPoint)
			point = bepPoint(&adjusted.PerformanceCurve)
		}
	} else {
		point = bepPoint(&adjusted.PerformanceCurve)
	}

	annual := decimal.NewFromFloat(point.Power).
		Mul(decimal.NewFromFloat(o.OperatingHoursPerYear)).
		Mul(o.ElectricityRate).
		Add(o.StageCost.Mul(decimal.NewFromInt(int64(stages))))

	s.Metrics = models.ConfigurationMetrics{
		Efficiency: point.Efficiency,
		Power:      point.Power,
		Flow:       point.Flow,
		Head:       point.Head,
		AnnualCost: annual.Round(2),
		Zone:       point.Zone,
	}
	s.ObjectiveValue = e.objective(s.Metrics)

	c := e.req.Constraints
	if c.MinEfficiency > 0 && point.Efficiency < c.MinEfficiency {
		s.Violations = append(s.Violations, fmt.Sprintf("efficiency %.2f below %.2f", point.Efficiency, c.MinEfficiency))
	}
	if c.MaxPower > 0 && point.Power > c.MaxPower {
		s.Violations = append(s.Violations, fmt.Sprintf("power %.2f above %.2f", point.Power, c.MaxPower))
	}
	if c.MinFlow > 0 && point.Flow < c.MinFlow {
		s.Violations = append(s.Violations, fmt.Sprintf("flow %.2f below %.2f", point.Flow, c.MinFlow))
	}
	s.Feasible = len(s.Violations) == 0
	return s
}

func (e *candidateEvaluator) objective(m models.ConfigurationMetrics) float64 {
	cost := m.AnnualCost.InexactFloat64()
	switch e.req.Objective {
	case models.ObjectiveEfficiency:
		return -m.Efficiency
	case models.ObjectivePower:
		return m.Power
	case models.ObjectiveCost:
		return cost
	default:
		return multiWeightEfficiency*(1-m.Efficiency/100) +
			multiWeightPower*m.Power/e.powerRef +
			multiWeightCost*cost/e.costRef
	}
}

// better ranks candidates: any feasible solution beats every infeasible one, infeasible
// ones order by violation magnitude, then by objective.
func (e *candidateEvaluator) better(a, b models.Solution) bool {
	if a.Feasible != b.Feasible {
		return a.Feasible
	}
	if !a.Feasible {
		if va, vb := e.violation(a), e.violation(b); va != vb {
			return va < vb
		}
	}
	return a.ObjectiveValue < b.ObjectiveValue
}

// score is the penalised objective minimised by the search. It only steers CMA-ES;
// the reported best comes from better.
func (e *candidateEvaluator) score(s models.Solution) float64 {
	if s.Feasible {
		return s.ObjectiveValue
	}
	v := e.violation(s)
	if math.IsInf(v, 1) {
		return v
	}
	return constraintPenalty*(1+v) + s.ObjectiveValue
}

// violation sums how far s misses its constraints; +Inf when s could not be evaluated.
func (e *candidateEvaluator) violation(s models.Solution) float64 {
	if math.IsInf(s.ObjectiveValue, 1) {
		return math.Inf(1)
	}
	c := e.req.Constraints
	magnitude := 0.0
	if c.MinEfficiency > 0 {
		magnitude += math.Max(0, c.MinEfficiency-s.Metrics.Efficiency)
	}
	if c.MaxPower > 0 {
		magnitude += math.Max(0, s.Metrics.Power-c.MaxPower)
	}
	if c.MinFlow > 0 {
		magnitude += math.Max(0, c.MinFlow-s.Metrics.Flow)
	}
	return magnitude
}

// setReferences normalises power and cost for the blended objective at the centre of the box.
func (e *candidateEvaluator) setReferences() {
	ss := e.req.SearchSpace
	stages := (ss.Stages.Min + ss.Stages.Max) / 2
	freq := (ss.Frequency.Min + ss.Frequency.Max) / 2

	adjusted, err := e.optimizer.scaler.Scale(e.curve, stages, freq)
	if err != nil {
		return
	}
	p := bepPoint(&adjusted.PerformanceCurve)
	if e.req.SystemCurve != nil {
		if res, err := e.optimizer.solver.Solve(e.ctx, &adjusted.PerformanceCurve, *e.req.SystemCurve); err == nil && res.Found {
			p = *res.Point
		}
	}
	cost := decimal.NewFromFloat(p.Power).
		Mul(decimal.NewFromFloat(e.optimizer.OperatingHoursPerYear)).
		Mul(e.optimizer.ElectricityRate).
		Add(e.optimizer.StageCost.Mul(decimal.NewFromInt(int64(stages)))).
		InexactFloat64()
	if p.Power > 0 {
		e.powerRef = p.Power
	}
	if cost > 0 {
		e.costRef = cost
	}
}

func bepPoint(curve *models.PerformanceCurve) models.OperatingPoint {
	bep := curve.BEP()
	return models.OperatingPoint{
		Flow:       bep.Flow,
		Head:       bep.Head,
		Power:      bep.Power,
		Efficiency: bep.Efficiency,
		Zone:       models.ZoneOptimal,
	}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
