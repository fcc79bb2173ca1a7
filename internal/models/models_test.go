package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/utils"
)

func samplePoints() []CurvePoint {
	return []CurvePoint{
		{Flow: 0, Head: 30, Power: 4, Efficiency: 0},
		{Flow: 500, Head: 27, Power: 6, Efficiency: 55},
		{Flow: 1000, Head: 22, Power: 7.5, Efficiency: 68},
		{Flow: 1500, Head: 14, Power: 8, Efficiency: 60},
	}
}

func TestNewPerformanceCurve(t *testing.T) {
	curve, err := NewPerformanceCurve("ESP-1", samplePoints(), 60, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, curve.BaseStages)
	assert.Equal(t, DataSourceVendor, curve.DataSource)
	assert.Equal(t, 0.0, curve.MinFlow())
	assert.Equal(t, 1500.0, curve.MaxFlow())
	assert.Equal(t, []float64{30, 27, 22, 14}, curve.Heads())
	assert.Equal(t, []float64{4, 6, 7.5, 8}, curve.Powers())
}

func TestNewPerformanceCurve_CopiesPoints(t *testing.T) {
	points := samplePoints()
	curve, err := NewPerformanceCurve("ESP-1", points, 60, 1)
	require.NoError(t, err)

	points[0].Head = 999
	assert.Equal(t, 30.0, curve.Points[0].Head)
}

func TestPerformanceCurve_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PerformanceCurve)
	}{
		{"single point", func(c *PerformanceCurve) { c.Points = c.Points[:1] }},
		{"zero frequency", func(c *PerformanceCurve) { c.RatedFrequency = 0 }},
		{"infinite frequency", func(c *PerformanceCurve) { c.RatedFrequency = math.Inf(1) }},
		{"zero stages", func(c *PerformanceCurve) { c.BaseStages = 0 }},
		{"negative flow", func(c *PerformanceCurve) { c.Points[0].Flow = -1 }},
		{"negative head", func(c *PerformanceCurve) { c.Points[1].Head = -2 }},
		{"efficiency above 100", func(c *PerformanceCurve) { c.Points[2].Efficiency = 101 }},
		{"nan power", func(c *PerformanceCurve) { c.Points[3].Power = math.NaN() }},
		{"duplicate flow", func(c *PerformanceCurve) { c.Points[2].Flow = c.Points[1].Flow }},
		{"decreasing flow", func(c *PerformanceCurve) { c.Points[3].Flow = 900 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			curve := &PerformanceCurve{PumpID: "ESP-1", Points: samplePoints(), RatedFrequency: 60, BaseStages: 1}
			tt.mutate(curve)
			err := curve.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrInvalidCurve)
		})
	}
}

func TestPerformanceCurve_Clone(t *testing.T) {
	curve, err := NewPerformanceCurve("ESP-1", samplePoints(), 60, 1)
	require.NoError(t, err)

	clone := curve.Clone()
	clone.Points[1].Head = 0
	clone.PumpID = "ESP-2"
	assert.Equal(t, 27.0, curve.Points[1].Head)
	assert.Equal(t, "ESP-1", curve.PumpID)
}

func TestPerformanceCurve_BEP(t *testing.T) {
	curve, err := NewPerformanceCurve("ESP-1", samplePoints(), 60, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, curve.BEPIndex())
	assert.Equal(t, 1000.0, curve.BEP().Flow)

	curve.Points[3].Efficiency = 68
	assert.Equal(t, 2, curve.BEPIndex(), "ties resolve to the lowest flow")
}

func TestSystemCurve(t *testing.T) {
	sys := SystemCurve{StaticHead: 10, FrictionCoefficient: 0.001, FlowMin: 100}
	assert.InDelta(t, 11.0, sys.HeadAt(math.Sqrt(1000)), 1e-9)
	assert.Equal(t, FlowRange{Min: 100, Max: 1500}, sys.Domain(1500))
	assert.Equal(t, FlowRange{Min: 100, Max: 100}, sys.Domain(50), "fallback below flow_min collapses to flow_min")

	sys.FlowMax = 800
	assert.Equal(t, FlowRange{Min: 100, Max: 800}, sys.Domain(1500))
	assert.NoError(t, sys.Validate())
}

func TestSystemCurve_ValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		sys  SystemCurve
	}{
		{"negative static head", SystemCurve{StaticHead: -1}},
		{"negative friction", SystemCurve{FrictionCoefficient: -0.1}},
		{"negative flow min", SystemCurve{FlowMin: -5}},
		{"max below min", SystemCurve{FlowMin: 500, FlowMax: 100}},
		{"nan head", SystemCurve{StaticHead: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sys.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrInvalidConfiguration)
		})
	}
}

func TestFlowRange(t *testing.T) {
	r := FlowRange{Min: 100, Max: 200}
	assert.True(t, r.Contains(100))
	assert.True(t, r.Contains(200))
	assert.False(t, r.Contains(200.5))
	assert.Equal(t, 100.0, r.Width())
	assert.Equal(t, 0.0, FlowRange{Min: 5, Max: 1}.Width())
}

func TestOperatingZones_Classify(t *testing.T) {
	zones := OperatingZones{
		Optimal:    Zone{Name: ZoneOptimal, Range: FlowRange{Min: 800, Max: 1100}},
		Acceptable: Zone{Name: ZoneAcceptable, Range: FlowRange{Min: 700, Max: 1200}},
	}
	assert.Equal(t, ZoneOptimal, zones.Classify(800))
	assert.Equal(t, ZoneAcceptable, zones.Classify(750))
	assert.Equal(t, ZoneAcceptable, zones.Classify(1150))
	assert.Equal(t, ZoneDangerLow, zones.Classify(100))
	assert.Equal(t, ZoneDangerHigh, zones.Classify(1300))
}

func TestObjective_Valid(t *testing.T) {
	for _, o := range []Objective{ObjectiveEfficiency, ObjectivePower, ObjectiveCost, ObjectiveMultiObjective} {
		assert.True(t, o.Valid(), o)
	}
	assert.False(t, Objective("throughput").Valid())
	assert.False(t, Objective("").Valid())
}

func TestRanges_Degenerate(t *testing.T) {
	assert.True(t, IntRange{Min: 50, Max: 50}.Degenerate())
	assert.False(t, IntRange{Min: 10, Max: 50}.Degenerate())
	assert.True(t, FloatRange{Min: 60, Max: 60}.Degenerate())
	assert.False(t, FloatRange{Min: 40, Max: 60}.Degenerate())
}

func TestEnhancedParameterSet_Matches(t *testing.T) {
	curve, err := NewPerformanceCurve("ESP-1", samplePoints(), 60, 1)
	require.NoError(t, err)

	set := &EnhancedParameterSet{Records: make([]EnhancedParameters, 4)}
	assert.True(t, set.Matches(curve))

	set.Records = set.Records[:3]
	assert.False(t, set.Matches(curve))

	var missing *EnhancedParameterSet
	assert.False(t, missing.Matches(curve))
}
