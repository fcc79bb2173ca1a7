package services

import (
	"math"

	"github.com/irfndi/esp-selector-go/internal/models"
)

// Perturbation sizes of the sensitivity profile.
const (
	sensitivityStageDelta     = 1
	sensitivityFrequencyDelta = 2.0
	highlySensitiveBelow      = 0.5
)

// sensitivity perturbs each parameter of best by ± a fixed delta (clamped to the search
// box) and reports the mean absolute efficiency change. Importance is normalised over
// parameters; robustness is 1/(1+Σ mean change).
func (o *ConfigurationOptimizer) sensitivity(ev *candidateEvaluator, best models.Solution, space models.SearchSpace) models.SensitivityProfile {
	type probe struct {
		name  string
		delta float64
		at    func(sign int) (int, float64)
	}
	probes := []probe{
		{
			name:  models.ParamStages,
			delta: sensitivityStageDelta,
			at: func(sign int) (int, float64) {
				return clampInt(best.Stages+sign*sensitivityStageDelta, space.Stages.Min, space.Stages.Max), best.Frequency
			},
		},
		{
			name:  models.ParamFrequency,
			delta: sensitivityFrequencyDelta,
			at: func(sign int) (int, float64) {
				return best.Stages, clampFloat(best.Frequency+float64(sign)*sensitivityFrequencyDelta, space.Frequency.Min, space.Frequency.Max)
			},
		},
	}

	profile := models.SensitivityProfile{Parameters: make(map[string]models.ParameterSensitivity, len(probes))}
	total := 0.0
	for _, p := range probes {
		var effChange, objChange float64
		for _, sign := range []int{-1, 1} {
			stages, freq := p.at(sign)
			if stages == best.Stages && freq == best.Frequency {
				continue
			}
			s := ev.evaluate(stages, freq)
			effChange += math.Abs(s.Metrics.Efficiency - best.Metrics.Efficiency)
			if !math.IsInf(s.ObjectiveValue, 0) {
				objChange += math.Abs(s.ObjectiveValue - best.ObjectiveValue)
			}
		}
		ps := models.ParameterSensitivity{
			Delta:                p.delta,
			MeanEfficiencyChange: effChange / 2,
			MeanObjectiveChange:  objChange / 2,
		}
		profile.Parameters[p.name] = ps
		total += ps.MeanEfficiencyChange
	}

	if total > 0 {
		for name, ps := range profile.Parameters {
			ps.Importance = ps.MeanEfficiencyChange / total
			profile.Parameters[name] = ps
		}
	}
	profile.RobustnessScore = 1 / (1 + total)
	profile.HighlySensitive = profile.RobustnessScore < highlySensitiveBelow
	return profile
}
