package services

import (
	"fmt"
	"math"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

// Scaling strategies understood by CurveScaler.
const (
	// ScalingPassThrough returns the base samples unchanged for any stages/frequency.
	// This is the production policy for the current vendor dataset.
	ScalingPassThrough = "pass_through"
	// ScalingAffinity applies the affinity laws: flow∝f, head∝f²·stages, power∝f³·stages.
	ScalingAffinity = "affinity"
)

// CurveScaler adjusts a base performance curve to a stage count and drive frequency.
type CurveScaler struct {
	Strategy string
}

// NewCurveScaler creates a scaler. An empty strategy selects pass-through.
func NewCurveScaler(strategy string) (*CurveScaler, error) {
	switch strategy {
	case "":
		strategy = ScalingPassThrough
	case ScalingPassThrough, ScalingAffinity:
	default:
		return nil, utils.InvalidConfigurationf("unknown scaling strategy %q", strategy)
	}
	return &CurveScaler{Strategy: strategy}, nil
}

// Scale returns a new AdjustedCurve; base is never modified.
func (s *CurveScaler) Scale(base *models.PerformanceCurve, stages int, frequency float64) (*models.AdjustedCurve, error) {
	if base == nil {
		return nil, utils.InvalidCurvef("curve is required")
	}
	if stages < 1 {
		return nil, utils.InvalidConfigurationf("stages must be >= 1, got %d", stages)
	}
	if !(frequency > 0) || math.IsInf(frequency, 0) {
		return nil, utils.InvalidConfigurationf("frequency must be positive, got %v", frequency)
	}

	adjusted := &models.AdjustedCurve{
		PerformanceCurve: *base.Clone(),
		Stages:           stages,
		Frequency:        frequency,
		Strategy:         s.Strategy,
	}

	switch s.Strategy {
	case ScalingPassThrough:
		return adjusted, nil
	case ScalingAffinity:
		r := frequency / base.RatedFrequency
		k := float64(stages) / float64(base.BaseStages)
		for i, p := range adjusted.Points {
			adjusted.Points[i] = models.CurvePoint{
				Flow:       p.Flow * r,
				Head:       p.Head * r * r * k,
				Power:      p.Power * r * r * r * k,
				Efficiency: p.Efficiency,
			}
		}
		adjusted.RatedFrequency = frequency
		adjusted.BaseStages = stages
		return adjusted, nil
	default:
		return nil, fmt.Errorf("curve scaler: unsupported strategy %q", s.Strategy)
	}
}
