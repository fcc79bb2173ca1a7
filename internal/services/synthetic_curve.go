package services

import (
	"time"

	"github.com/irfndi/esp-selector-go/internal/models"
)

// Placeholder pump used when the store has no curve for a pump id.
// Flow in m³/d, head in m, power in kW.
const (
	syntheticMaxFlow       = 2000.0
	syntheticShutoffHead   = 300.0
	syntheticHeadDroop     = 0.8
	syntheticPowerBase     = 15.0
	syntheticPowerSlope    = 45.0
	syntheticSamples       = 11
	syntheticRatedFreq     = 60.0
	hydraulicPowerConstant = 9.81 / 86400 // kW per (m³/d · m) of water
)

// SyntheticCurve builds a physically plausible placeholder curve, flagged as synthetic.
// Head falls parabolically from shut-off, shaft power rises linearly and efficiency is
// the ratio of hydraulic to shaft power, which peaks near mid-range.
func SyntheticCurve(pumpID string, ratedFrequency float64) *models.PerformanceCurve {
	if ratedFrequency <= 0 {
		ratedFrequency = syntheticRatedFreq
	}
	points := make([]models.CurvePoint, syntheticSamples)
	for i := range points {
		x := float64(i) / float64(syntheticSamples-1)
		flow := x * syntheticMaxFlow
		head := syntheticShutoffHead * (1 - syntheticHeadDroop*x*x)
		power := syntheticPowerBase + syntheticPowerSlope*x
		points[i] = models.CurvePoint{
			Flow:       flow,
			Head:       head,
			Power:      power,
			Efficiency: 100 * hydraulicPowerConstant * flow * head / power,
		}
	}
	return &models.PerformanceCurve{
		PumpID:         pumpID,
		Points:         points,
		RatedFrequency: ratedFrequency,
		BaseStages:     1,
		DataSource:     models.DataSourceSynthetic,
		VersionTag:     "synthetic",
		Synthetic:      true,
		CreatedAt:      time.Now().UTC(),
	}
}
