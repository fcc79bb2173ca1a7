package services

import (
	"math"
	"time"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/models"
)

// EnhancedParameterEstimator derives secondary engineering quantities from a curve.
// All outputs are deterministic functions of the curve samples and the coefficients.
type EnhancedParameterEstimator struct {
	coeffs config.EnhancedConfig
}

// NewEnhancedParameterEstimator creates an estimator with the given empirical coefficients.
func NewEnhancedParameterEstimator(coeffs config.EnhancedConfig) *EnhancedParameterEstimator {
	if coeffs.TemperatureRefFlow <= 0 {
		coeffs.TemperatureRefFlow = 1
	}
	if coeffs.SectionModulus <= 0 {
		coeffs.SectionModulus = 1
	}
	return &EnhancedParameterEstimator{coeffs: coeffs}
}

// Estimate returns one EnhancedParameters record per curve point.
func (e *EnhancedParameterEstimator) Estimate(curve *models.PerformanceCurve) *models.EnhancedParameterSet {
	bepFlow := curve.BEP().Flow
	records := make([]models.EnhancedParameters, len(curve.Points))
	for i, p := range curve.Points {
		records[i] = e.estimatePoint(i, p, bepFlow)
	}
	return &models.EnhancedParameterSet{
		PumpID:       curve.PumpID,
		CurveVersion: curve.Version,
		Records:      records,
		Source:       models.EnhancedSourceComputed,
		ComputedAt:   time.Now().UTC(),
	}
}

func (e *EnhancedParameterEstimator) estimatePoint(i int, p models.CurvePoint, bepFlow float64) models.EnhancedParameters {
	c := e.coeffs

	// q is the flow ratio to BEP; a zero BEP flow treats every sample as at BEP.
	q := 1.0
	if bepFlow > 0 {
		q = p.Flow / bepFlow
	}
	dev := q - 1
	loss := 1 - p.Efficiency/100

	npsh := c.NPSHA*p.Flow*p.Flow + c.NPSHB*p.Head + c.NPSHBase
	radial := c.RadialCoeff * p.Head * (1 + 3*dev*dev)
	axial := c.AxialCoeff * p.Head * (1 + 0.5*q)

	return models.EnhancedParameters{
		Index:                 i,
		Flow:                  p.Flow,
		NPSHRequired:          npsh,
		CavitationMargin:      c.NPSHAvailable - npsh,
		TemperatureRise:       c.TemperatureCoeff * p.Power * loss / (1 + p.Flow/c.TemperatureRefFlow),
		Vibration:             c.VibrationBase + c.VibrationCoeff*dev*dev,
		Noise:                 c.NoiseBase + 10*math.Log10(1+p.Power) + c.NoiseCoeff*math.Abs(dev),
		WearRate:              c.WearBase * (1 + 2*dev*dev) * (1 + loss),
		RadialLoad:            radial,
		AxialThrust:           axial,
		MaterialStress:        (radial + axial) / c.SectionModulus,
		EnergyEfficiencyRatio: math.Max(0, p.Efficiency/100*(1-0.1*math.Abs(dev))),
		StabilityScore:        100 * math.Exp(-2*dev*dev),
	}
}
