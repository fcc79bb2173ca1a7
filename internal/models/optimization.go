package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Objective selects what the configuration optimizer minimises or maximises.
type Objective string

const (
	ObjectiveEfficiency     Objective = "efficiency"
	ObjectivePower          Objective = "power"
	ObjectiveCost           Objective = "cost"
	ObjectiveMultiObjective Objective = "multi_objective"
)

// Valid reports whether o is a known objective.
func (o Objective) Valid() bool {
	switch o {
	case ObjectiveEfficiency, ObjectivePower, ObjectiveCost, ObjectiveMultiObjective:
		return true
	}
	return false
}

// IntRange is an inclusive integer search interval.
type IntRange struct {
	Min int `json:"min" validate:"gte=1"`
	Max int `json:"max" validate:"gtefield=Min"`
}

// FloatRange is an inclusive continuous search interval.
type FloatRange struct {
	Min float64 `json:"min" validate:"gt=0"`
	Max float64 `json:"max" validate:"gtefield=Min"`
}

// Degenerate reports whether the range holds a single value.
func (r IntRange) Degenerate() bool { return r.Min == r.Max }

// Degenerate reports whether the range holds a single value.
func (r FloatRange) Degenerate() bool { return r.Min == r.Max }

// SearchSpace bounds the (stages, frequency) search.
type SearchSpace struct {
	Stages    IntRange   `json:"stages"`
	Frequency FloatRange `json:"frequency"`
}

// Constraints reject candidate configurations. Zero values are unset.
type Constraints struct {
	MinEfficiency float64 `json:"min_efficiency" validate:"gte=0,lte=100"`
	MaxPower      float64 `json:"max_power" validate:"gte=0"`
	MinFlow       float64 `json:"min_flow" validate:"gte=0"`
}

// OptimizationRequest is the input of optimize_configuration.
type OptimizationRequest struct {
	SearchSpace SearchSpace  `json:"search_space"`
	Objective   Objective    `json:"objective" validate:"required,objective"`
	Constraints Constraints  `json:"constraints"`
	SystemCurve *SystemCurve `json:"system_curve,omitempty"`
	// Seed makes alternatives reproducible; 0 uses the configured seed.
	Seed uint64 `json:"seed,omitempty"`
}

// ConfigurationMetrics are the evaluated figures of one (stages, frequency) candidate.
type ConfigurationMetrics struct {
	Efficiency float64         `json:"efficiency"`
	Power      float64         `json:"power"`
	Flow       float64         `json:"flow"`
	Head       float64         `json:"head"`
	AnnualCost decimal.Decimal `json:"annual_cost"`
	Zone       ZoneName        `json:"zone,omitempty"`
}

// Solution is one evaluated configuration.
type Solution struct {
	Stages         int                  `json:"stages"`
	Frequency      float64              `json:"frequency"`
	Metrics        ConfigurationMetrics `json:"metrics"`
	ObjectiveValue float64              `json:"objective_value"`
	Feasible       bool                 `json:"feasible"`
	Violations     []string             `json:"violations,omitempty"`
}

// ParameterSensitivity reports how strongly one parameter moves the result.
type ParameterSensitivity struct {
	Delta float64 `json:"delta"`
	// MeanEfficiencyChange is the mean absolute efficiency change over the ± perturbations.
	MeanEfficiencyChange float64 `json:"mean_efficiency_change"`
	MeanObjectiveChange  float64 `json:"mean_objective_change"`
	// Importance is MeanEfficiencyChange normalised over all parameters.
	Importance float64 `json:"importance"`
}

// SensitivityProfile maps parameter names ("stages", "frequency") to their effect.
type SensitivityProfile struct {
	Parameters      map[string]ParameterSensitivity `json:"parameters"`
	RobustnessScore float64                         `json:"robustness_score"`
	HighlySensitive bool                            `json:"highly_sensitive"`
}

// OptimizationResult is the output of optimize_configuration.
type OptimizationResult struct {
	ID              string             `json:"id"`
	PumpID          string             `json:"pump_id,omitempty"`
	Objective       Objective          `json:"objective"`
	Best            Solution           `json:"best"`
	Alternatives    []Solution         `json:"alternatives"`
	Sensitivity     SensitivityProfile `json:"sensitivity"`
	Iterations      int                `json:"iterations"`
	Evaluations     int                `json:"evaluations"`
	Converged       bool               `json:"converged"`
	Status          string             `json:"status"`
	Notes           []string           `json:"notes,omitempty"`
	Synthetic       bool               `json:"synthetic"`
	ScalingStrategy string             `json:"scaling_strategy"`
	Duration        time.Duration      `json:"duration_ns"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// Well-known sensitivity parameter names.
const (
	ParamStages    = "stages"
	ParamFrequency = "frequency"
)

// NoteInfeasible annotates a best solution that violates the constraints.
const NoteInfeasible = "infeasible best effort: no candidate satisfied all constraints"
