package services

import (
	"math"

	"github.com/irfndi/esp-selector-go/internal/models"
)

// Band multipliers around the BEP flow.
const (
	optimalLow     = 0.75
	optimalHigh    = 1.25
	acceptableLow  = 0.6
	acceptableHigh = 1.4
)

// ClassifyZones partitions the curve's flow axis around its best efficiency point.
// The BEP is the first sample with maximal efficiency.
func ClassifyZones(curve *models.PerformanceCurve) models.OperatingZones {
	idx := curve.BEPIndex()
	bep := curve.Points[idx]
	q := bep.Flow

	highEdge := acceptableHigh * q
	return models.OperatingZones{
		BEPIndex:      idx,
		BEPFlow:       q,
		BEPEfficiency: bep.Efficiency,
		Optimal: models.Zone{
			Name:  models.ZoneOptimal,
			Range: models.FlowRange{Min: optimalLow * q, Max: optimalHigh * q},
		},
		Acceptable: models.Zone{
			Name:  models.ZoneAcceptable,
			Range: models.FlowRange{Min: acceptableLow * q, Max: highEdge},
		},
		DangerLow: models.Zone{
			Name:     models.ZoneDangerLow,
			Range:    models.FlowRange{Min: 0, Max: acceptableLow * q},
			RiskTags: []string{models.RiskCavitation, models.RiskExcessRadialLoad, models.RiskLowEfficiency},
		},
		DangerHigh: models.Zone{
			Name:     models.ZoneDangerHigh,
			Range:    models.FlowRange{Min: highEdge, Max: math.Max(curve.MaxFlow(), highEdge)},
			RiskTags: []string{models.RiskOverload, models.RiskBearingWear, models.RiskVibration},
		},
	}
}
