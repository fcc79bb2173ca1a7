package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

func newTestDegradationModel(degradationCap float64) *DegradationModel {
	cfg := testConfig().Engine.Degradation
	if degradationCap > 0 {
		cfg.DegradationCap = degradationCap
	}
	return NewDegradationModel(cfg, discardLogger())
}

func testBaseMetrics() models.BaseMetrics {
	return models.BaseMetrics{
		Efficiency:            60,
		Power:                 50,
		Flow:                  1000,
		Head:                  200,
		OperatingHoursPerYear: 8760,
		ElectricityRate:       decimal.RequireFromString("0.10"),
		InitialCost:           decimal.NewFromInt(150000),
		BaseMaintenanceCost:   decimal.NewFromInt(5000),
	}
}

func TestDegradationModel_ZeroYearsIsBaseline(t *testing.T) {
	m := newTestDegradationModel(0)
	base := testBaseMetrics()

	forecast, err := m.Forecast(context.Background(), threePointCurve(t), base, 0, nil)
	require.NoError(t, err)
	require.Len(t, forecast.Snapshots, 1)

	s := forecast.Snapshots[0]
	assert.Equal(t, 0, s.Year)
	assert.Zero(t, s.WearFactor)
	assert.Zero(t, s.Degradation)
	assert.Equal(t, base.Efficiency, s.Efficiency)
	assert.Equal(t, base.Power, s.Power)
	assert.Equal(t, base.Flow, s.Flow)
	assert.Equal(t, base.Head, s.Head)
	assert.True(t, forecast.Lifecycle.TotalCost.Equal(base.InitialCost))
	assert.Nil(t, forecast.Trend.CriticalYear)
	assert.Equal(t, models.ActionContinue, forecast.Recommendation.Action)
}

func TestDegradationModel_Monotonic(t *testing.T) {
	m := newTestDegradationModel(0)

	forecast, err := m.Forecast(context.Background(), threePointCurve(t), testBaseMetrics(), 20, nil)
	require.NoError(t, err)
	require.Len(t, forecast.Snapshots, 21)

	for i := 1; i < len(forecast.Snapshots); i++ {
		prev, cur := forecast.Snapshots[i-1], forecast.Snapshots[i]
		assert.LessOrEqual(t, cur.Efficiency, prev.Efficiency, "efficiency rose in year %d", cur.Year)
		assert.GreaterOrEqual(t, cur.WearFactor, prev.WearFactor, "wear fell in year %d", cur.Year)
		assert.GreaterOrEqual(t, cur.Power, prev.Power, "power fell in year %d", cur.Year)
		assert.LessOrEqual(t, cur.WearFactor, m.WearCeiling)
		assert.LessOrEqual(t, cur.Degradation, m.DegradationCap)
	}
	assert.Less(t, forecast.Trend.EfficiencySlope, 0.0)
	assert.Greater(t, forecast.Trend.PowerSlope, 0.0)
}

func TestDegradationModel_CriticalYear(t *testing.T) {
	// 0.01y + 0.002y² first exceeds 0.40 in year 12.
	m := newTestDegradationModel(0.5)

	forecast, err := m.Forecast(context.Background(), threePointCurve(t), testBaseMetrics(), 20, nil)
	require.NoError(t, err)

	require.NotNil(t, forecast.Trend.CriticalYear)
	assert.Equal(t, 12, *forecast.Trend.CriticalYear)
	assert.InDelta(t, 36, forecast.Trend.EfficiencyFloor, 1e-9)
	assert.Equal(t, models.ActionReplace, forecast.Recommendation.Action)
	assert.Equal(t, 12, forecast.Recommendation.Year)
}

func TestDegradationModel_DefaultCapNeverReachesFloor(t *testing.T) {
	m := newTestDegradationModel(0)

	forecast, err := m.Forecast(context.Background(), threePointCurve(t), testBaseMetrics(), 50, nil)
	require.NoError(t, err)
	assert.Nil(t, forecast.Trend.CriticalYear)
}

func TestDegradationModel_Recommendation(t *testing.T) {
	m := newTestDegradationModel(0)

	short, err := m.Forecast(context.Background(), nil, testBaseMetrics(), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinue, short.Recommendation.Action)

	long, err := m.Forecast(context.Background(), nil, testBaseMetrics(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ActionOverhaul, long.Recommendation.Action)
	assert.Equal(t, 6, long.Recommendation.Year)
	assert.Contains(t, long.Recommendation.Reason, "reliability")
}

func TestDegradationModel_Lifecycle(t *testing.T) {
	m := newTestDegradationModel(0)
	base := testBaseMetrics()

	forecast, err := m.Forecast(context.Background(), nil, base, 3, nil)
	require.NoError(t, err)

	energy, maintenance := decimal.Zero, decimal.Zero
	for _, s := range forecast.Snapshots[1:] {
		energy = energy.Add(s.EnergyCost)
		maintenance = maintenance.Add(s.MaintenanceCost)
	}
	lc := forecast.Lifecycle
	assert.True(t, lc.EnergyCost.Equal(energy.Round(2)), "energy %s != %s", lc.EnergyCost, energy)
	assert.True(t, lc.MaintenanceCost.Equal(maintenance.Round(2)))
	assert.True(t, lc.TotalCost.Equal(base.InitialCost.Add(energy).Add(maintenance).Round(2)))
	assert.True(t, lc.NetPresentValue.LessThan(lc.TotalCost))
	assert.True(t, lc.AnnualizedCost.IsPositive())
	assert.Equal(t, 0.08, lc.DiscountRate)
}

func TestDegradationModel_HistoryBias(t *testing.T) {
	m := newTestDegradationModel(0)
	base := testBaseMetrics()

	steep := []models.MaintenanceRecord{
		{YearsInService: 5, Efficiency: 48},
		{YearsInService: 1, Efficiency: 60},
		{YearsInService: 2, Efficiency: 57},
		{YearsInService: 3, Efficiency: 54},
		{YearsInService: 4, Efficiency: 51},
	}
	forecast, err := m.Forecast(context.Background(), nil, base, 5, steep)
	require.NoError(t, err)
	// Smoothed slope of -3/yr on 60% is 5%/yr against 2.6%/yr modelled at year 4.
	assert.InDelta(t, 0.05/0.026, forecast.Trend.HistoryBias, 1e-6)

	unbiased, err := m.Forecast(context.Background(), nil, base, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, unbiased.Trend.HistoryBias)
	assert.Less(t, forecast.Snapshots[5].Efficiency, unbiased.Snapshots[5].Efficiency)

	flat := []models.MaintenanceRecord{
		{YearsInService: 1, Efficiency: 60},
		{YearsInService: 2, Efficiency: 60},
		{YearsInService: 3, Efficiency: 60},
		{YearsInService: 4, Efficiency: 60},
	}
	forecast, err = m.Forecast(context.Background(), nil, base, 5, flat)
	require.NoError(t, err)
	assert.Equal(t, minHistoryBias, forecast.Trend.HistoryBias)

	forecast, err = m.Forecast(context.Background(), nil, base, 5, steep[:2])
	require.NoError(t, err)
	assert.Equal(t, 1.0, forecast.Trend.HistoryBias)
}

func TestDegradationModel_FillsMissingBaseMetricsFromBEP(t *testing.T) {
	m := newTestDegradationModel(0)

	forecast, err := m.Forecast(context.Background(), threePointCurve(t), models.BaseMetrics{}, 1, nil)
	require.NoError(t, err)

	s := forecast.Snapshots[0]
	assert.Equal(t, 65.0, s.Efficiency)
	assert.Equal(t, 40.0, s.Power)
	assert.Equal(t, 1000.0, s.Flow)
	assert.Equal(t, 250.0, s.Head)
	assert.True(t, forecast.Lifecycle.InitialCost.Equal(decimal.NewFromInt(150000)))
}

func TestDegradationModel_RejectsInvalidInput(t *testing.T) {
	m := newTestDegradationModel(0)
	ctx := context.Background()

	_, err := m.Forecast(ctx, nil, testBaseMetrics(), -1, nil)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))

	_, err = m.Forecast(ctx, nil, testBaseMetrics(), m.MaxYears+1, nil)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))

	bad := testBaseMetrics()
	bad.Efficiency = 120
	_, err = m.Forecast(ctx, nil, bad, 5, nil)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))
}

func TestDegradationModel_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDegradationModel(0).Forecast(ctx, nil, testBaseMetrics(), 5, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
