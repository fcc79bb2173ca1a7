package models

import "time"

// EnhancedParameters are secondary engineering quantities derived for one curve sample.
type EnhancedParameters struct {
	Index                 int     `json:"index"`
	Flow                  float64 `json:"flow"`
	NPSHRequired          float64 `json:"npsh_required"`
	TemperatureRise       float64 `json:"temperature_rise"`
	Vibration             float64 `json:"vibration"`
	Noise                 float64 `json:"noise"`
	WearRate              float64 `json:"wear_rate"`
	RadialLoad            float64 `json:"radial_load"`
	AxialThrust           float64 `json:"axial_thrust"`
	MaterialStress        float64 `json:"material_stress"`
	EnergyEfficiencyRatio float64 `json:"energy_efficiency_ratio"`
	// CavitationMargin is NPSH available minus required; negative means cavitation.
	CavitationMargin float64 `json:"cavitation_margin"`
	StabilityScore   float64 `json:"stability_score"`
}

// EnhancedParameterSet holds one EnhancedParameters record per curve point.
type EnhancedParameterSet struct {
	PumpID       string               `json:"pump_id"`
	CurveVersion int                  `json:"curve_version"`
	Records      []EnhancedParameters `json:"records"`
	// Source is "store", "cache" or "computed".
	Source     string    `json:"source"`
	ComputedAt time.Time `json:"computed_at"`
}

// Enhanced parameter set sources.
const (
	EnhancedSourceStore    = "store"
	EnhancedSourceCache    = "cache"
	EnhancedSourceComputed = "computed"
)

// Matches reports whether the set has exactly one record per point of curve.
func (s *EnhancedParameterSet) Matches(curve *PerformanceCurve) bool {
	return s != nil && len(s.Records) == len(curve.Points)
}
