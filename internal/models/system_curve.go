package models

import (
	"math"

	"github.com/irfndi/esp-selector-go/internal/utils"
)

// SystemCurve is the well's hydraulic load: head = static_head + k·flow².
type SystemCurve struct {
	StaticHead          float64 `json:"static_head" validate:"gte=0"`
	FrictionCoefficient float64 `json:"friction_coefficient" validate:"gte=0"`
	FlowMin             float64 `json:"flow_min" validate:"gte=0"`
	// FlowMax of 0 means the curve is defined over the whole pump domain.
	FlowMax float64 `json:"flow_max" validate:"gte=0"`
}

// HeadAt evaluates the system head at flow.
func (s SystemCurve) HeadAt(flow float64) float64 {
	return s.StaticHead + s.FrictionCoefficient*flow*flow
}

// Domain returns the flow interval the system curve is defined on.
// An unbounded maximum is replaced by fallbackMax.
func (s SystemCurve) Domain(fallbackMax float64) FlowRange {
	max := s.FlowMax
	if max == 0 {
		max = math.Max(fallbackMax, s.FlowMin)
	}
	return FlowRange{Min: s.FlowMin, Max: max}
}

// Validate rejects non-physical system curves.
func (s SystemCurve) Validate() error {
	for _, v := range []float64{s.StaticHead, s.FrictionCoefficient, s.FlowMin, s.FlowMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return utils.InvalidConfigurationf("system curve values must be finite")
		}
	}
	if s.StaticHead < 0 {
		return utils.InvalidConfigurationf("static head must be >= 0, got %v", s.StaticHead)
	}
	if s.FrictionCoefficient < 0 {
		return utils.InvalidConfigurationf("friction coefficient must be >= 0, got %v", s.FrictionCoefficient)
	}
	if s.FlowMin < 0 {
		return utils.InvalidConfigurationf("flow_min must be >= 0, got %v", s.FlowMin)
	}
	if s.FlowMax != 0 && s.FlowMax < s.FlowMin {
		return utils.InvalidConfigurationf("flow_max %v below flow_min %v", s.FlowMax, s.FlowMin)
	}
	return nil
}
