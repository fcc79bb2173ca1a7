package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/metrics"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

type fakeDerivedCache struct {
	mu          sync.Mutex
	sets        map[string]models.EnhancedParameterSet
	invalidated []string
}

func newFakeDerivedCache() *fakeDerivedCache {
	return &fakeDerivedCache{sets: make(map[string]models.EnhancedParameterSet)}
}

func (c *fakeDerivedCache) key(pumpID string, version int) string {
	return fmt.Sprintf("%s:%d", pumpID, version)
}

func (c *fakeDerivedCache) GetEnhancedParameters(_ context.Context, pumpID string, version int) (*models.EnhancedParameterSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[c.key(pumpID, version)]
	if !ok {
		return nil, false
	}
	return &set, true
}

func (c *fakeDerivedCache) SetEnhancedParameters(_ context.Context, set *models.EnhancedParameterSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[c.key(set.PumpID, set.CurveVersion)] = *set
}

func (c *fakeDerivedCache) Invalidate(_ context.Context, pumpID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, pumpID)
	for k, v := range c.sets {
		if v.PumpID == pumpID {
			delete(c.sets, k)
		}
	}
}

type failingStore struct {
	*interfaces.MemoryCurveStore
}

func (failingStore) GetActiveCurve(context.Context, string) (*models.PerformanceCurve, error) {
	return nil, errors.New("connection refused")
}

func newTestPumpService(t *testing.T, store interfaces.CurveStore, cache interfaces.DerivedCache) (*PumpService, *metrics.MetricsCollector) {
	t.Helper()
	collector := metrics.NewMetricsCollector(nil, "test")
	cfg := testConfig()
	cfg.Engine.Optimizer.MaxGenerations = 20
	cfg.Engine.Intersection.GridPoints = 200
	svc, err := NewPumpService(cfg, store, cache, collector, discardLogger())
	require.NoError(t, err)
	return svc, collector
}

func TestNewPumpService_RejectsBadConfiguration(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.ScalingStrategy = "quadratic"
	_, err := NewPumpService(cfg, interfaces.NewMemoryCurveStore(), nil, nil, nil)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))

	_, err = NewPumpService(testConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestPumpService_GetAdjustedCurve_SyntheticFallback(t *testing.T) {
	svc, collector := newTestPumpService(t, interfaces.NewMemoryCurveStore(), nil)

	adjusted, err := svc.GetAdjustedCurve(context.Background(), "UNKNOWN-1", 100, 60)
	require.NoError(t, err)

	assert.True(t, adjusted.Synthetic)
	assert.Equal(t, models.DataSourceSynthetic, adjusted.DataSource)
	assert.Equal(t, "UNKNOWN-1", adjusted.PumpID)
	assert.Equal(t, 100, adjusted.Stages)

	count, err := testutil.GatherAndCount(collector.Registry(), "esp_selector_synthetic_curve_fallbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPumpService_GetAdjustedCurve_StoredCurve(t *testing.T) {
	store := interfaces.NewMemoryCurveStore()
	svc, _ := newTestPumpService(t, store, nil)
	ctx := context.Background()

	_, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)

	adjusted, err := svc.GetAdjustedCurve(ctx, "ESP-A", 10, 55)
	require.NoError(t, err)
	assert.False(t, adjusted.Synthetic)
	assert.Equal(t, 1, adjusted.Version)
	assert.Equal(t, ScalingPassThrough, adjusted.Strategy)

	_, err = svc.GetAdjustedCurve(ctx, "ESP-A", 0, 55)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))
}

func TestPumpService_ResolveCurve_DefaultsToBaseConfiguration(t *testing.T) {
	store := interfaces.NewMemoryCurveStore()
	svc, _ := newTestPumpService(t, store, nil)
	ctx := context.Background()

	_, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)

	adjusted, err := svc.ResolveCurve(ctx, "ESP-A", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, adjusted.Stages)
	assert.Equal(t, 60.0, adjusted.Frequency)

	stages := 40
	adjusted, err = svc.ResolveCurve(ctx, "ESP-A", &stages, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, adjusted.Stages)
	assert.Equal(t, 60.0, adjusted.Frequency)
}

func TestPumpService_GetAdjustedCurve_StoreFailure(t *testing.T) {
	svc, _ := newTestPumpService(t, failingStore{interfaces.NewMemoryCurveStore()}, nil)

	_, err := svc.GetAdjustedCurve(context.Background(), "ESP-A", 10, 60)
	require.Error(t, err)
	assert.False(t, errors.Is(err, utils.ErrNotFound))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPumpService_GetOperatingZones(t *testing.T) {
	svc, _ := newTestPumpService(t, interfaces.NewMemoryCurveStore(), nil)
	zones := svc.GetOperatingZones(threePointCurve(t))
	assert.Equal(t, 1000.0, zones.BEPFlow)
}

func TestPumpService_GetEnhancedParameters_Precedence(t *testing.T) {
	ctx := context.Background()
	store := interfaces.NewMemoryCurveStore()
	cache := newFakeDerivedCache()
	svc, _ := newTestPumpService(t, store, cache)

	saved, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)

	first, err := svc.GetEnhancedParameters(ctx, "ESP-A", saved)
	require.NoError(t, err)
	assert.Equal(t, models.EnhancedSourceComputed, first.Source)

	stored, err := store.GetEnhancedParameters(ctx, "ESP-A", saved.Version)
	require.NoError(t, err)
	assert.Len(t, stored.Records, len(saved.Points))

	second, err := svc.GetEnhancedParameters(ctx, "ESP-A", saved)
	require.NoError(t, err)
	assert.Equal(t, models.EnhancedSourceCache, second.Source)
	assert.Equal(t, first.Records, second.Records)

	cache.Invalidate(ctx, "ESP-A")
	third, err := svc.GetEnhancedParameters(ctx, "ESP-A", saved)
	require.NoError(t, err)
	assert.Equal(t, models.EnhancedSourceStore, third.Source)
}

func TestPumpService_GetEnhancedParameters_NotPersistedForScaledOrSynthetic(t *testing.T) {
	ctx := context.Background()
	store := interfaces.NewMemoryCurveStore()
	cache := newFakeDerivedCache()
	svc, _ := newTestPumpService(t, store, cache)

	set, err := svc.GetEnhancedParameters(ctx, "GHOST", SyntheticCurve("GHOST", 60))
	require.NoError(t, err)
	assert.Equal(t, models.EnhancedSourceComputed, set.Source)

	_, err = store.GetEnhancedParameters(ctx, "GHOST", 0)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
	assert.Empty(t, cache.sets)

	_, err = svc.GetEnhancedParameters(ctx, "GHOST", &models.PerformanceCurve{})
	assert.True(t, errors.Is(err, utils.ErrInvalidCurve))
}

func TestPumpService_SaveCurveInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeDerivedCache()
	svc, _ := newTestPumpService(t, interfaces.NewMemoryCurveStore(), cache)

	first, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)
	second, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, []string{"ESP-A", "ESP-A"}, cache.invalidated)

	versions, err := svc.ListCurveVersions(ctx, "ESP-A")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	_, err = svc.SaveCurve(ctx, &models.PerformanceCurve{PumpID: "ESP-A"})
	assert.True(t, errors.Is(err, utils.ErrInvalidCurve))
}

func TestPumpService_FindOperatingPoint(t *testing.T) {
	svc, _ := newTestPumpService(t, interfaces.NewMemoryCurveStore(), nil)
	ctx := context.Background()

	res, err := svc.FindOperatingPoint(ctx, threePointCurve(t), models.SystemCurve{StaticHead: 100, FrictionCoefficient: 0.00005})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Synthetic)

	res, err = svc.FindOperatingPoint(ctx, SyntheticCurve("X", 60), models.SystemCurve{StaticHead: 10, FlowMin: 5000, FlowMax: 6000})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, models.NoPointEmptyOverlap, res.Reason)
	assert.True(t, res.Synthetic)

	_, err = svc.FindOperatingPoint(ctx, nil, models.SystemCurve{})
	assert.True(t, errors.Is(err, utils.ErrInvalidCurve))
}

func TestPumpService_ForecastDegradation(t *testing.T) {
	ctx := context.Background()
	store := interfaces.NewMemoryCurveStore()
	svc, _ := newTestPumpService(t, store, nil)

	_, err := svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)
	for i, eff := range []float64{65, 62, 59, 56} {
		_, _ = store.AddMaintenanceRecord(ctx, models.MaintenanceRecord{PumpID: "ESP-A", YearsInService: float64(i + 1), Efficiency: eff})
	}

	forecast, err := svc.ForecastDegradation(ctx, "ESP-A", nil, models.BaseMetrics{}, 5)
	require.NoError(t, err)
	assert.Equal(t, "ESP-A", forecast.PumpID)
	assert.False(t, forecast.Synthetic)
	assert.NotEqual(t, 1.0, forecast.Trend.HistoryBias)
	assert.Len(t, store.Predictions("ESP-A"), 1)
	assert.Equal(t, interfaces.PredictionDegradation, store.Predictions("ESP-A")[0].Kind)

	anonymous, err := svc.ForecastDegradation(ctx, "", threePointCurve(t), models.BaseMetrics{}, 0)
	require.NoError(t, err)
	assert.Len(t, anonymous.Snapshots, 1)

	_, err = svc.ForecastDegradation(ctx, "", nil, models.BaseMetrics{}, 5)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))
}

func TestPumpService_OptimizeConfiguration(t *testing.T) {
	ctx := context.Background()
	store := interfaces.NewMemoryCurveStore()
	svc, collector := newTestPumpService(t, store, nil)

	result, err := svc.OptimizeConfiguration(ctx, "NEW-PUMP", models.OptimizationRequest{
		SearchSpace: models.SearchSpace{
			Stages:    models.IntRange{Min: 50, Max: 50},
			Frequency: models.FloatRange{Min: 60, Max: 60},
		},
		Objective: models.ObjectiveEfficiency,
	})
	require.NoError(t, err)
	assert.True(t, result.Synthetic)
	assert.True(t, result.Converged)
	assert.Equal(t, "NEW-PUMP", result.PumpID)
	assert.Len(t, store.Predictions("NEW-PUMP"), 1)

	count, err := testutil.GatherAndCount(collector.Registry(), "esp_selector_engine_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.OptimizeConfiguration(ctx, "NEW-PUMP", models.OptimizationRequest{Objective: models.ObjectiveEfficiency})
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))
}

func TestPumpService_AddMaintenanceRecord(t *testing.T) {
	ctx := context.Background()
	store := interfaces.NewMemoryCurveStore()
	svc, _ := newTestPumpService(t, store, nil)

	saved, err := svc.AddMaintenanceRecord(ctx, models.MaintenanceRecord{PumpID: "ESP-A", YearsInService: 2, Efficiency: 61})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.ID)

	history, err := store.GetMaintenanceHistory(ctx, "ESP-A")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	invalid := []models.MaintenanceRecord{
		{YearsInService: 1, Efficiency: 60},
		{PumpID: "ESP-A", YearsInService: -1, Efficiency: 60},
		{PumpID: "ESP-A", YearsInService: 1, Efficiency: 101},
		{PumpID: "ESP-A", YearsInService: 1, Efficiency: 60, MaintenanceCost: decimal.NewFromInt(-5)},
	}
	for _, record := range invalid {
		_, err := svc.AddMaintenanceRecord(ctx, record)
		assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration), "%+v", record)
	}
}

func TestPumpService_ScaleCurve(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.ScalingStrategy = ScalingAffinity
	svc, err := NewPumpService(cfg, interfaces.NewMemoryCurveStore(), nil, nil, discardLogger())
	require.NoError(t, err)

	base := threePointCurve(t)
	stages := 2 * base.BaseStages
	adjusted, err := svc.ScaleCurve(base, &stages, nil)
	require.NoError(t, err)
	assert.Equal(t, stages, adjusted.Stages)
	assert.Equal(t, base.RatedFrequency, adjusted.Frequency)
	for i, p := range adjusted.Points {
		assert.InDelta(t, 2*base.Points[i].Head, p.Head, 1e-9)
		assert.InDelta(t, base.Points[i].Flow, p.Flow, 1e-9)
	}

	unchanged, err := svc.ScaleCurve(base, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, base.Points, unchanged.Points)

	_, err = svc.ScaleCurve(nil, &stages, nil)
	assert.True(t, errors.Is(err, utils.ErrInvalidCurve))
}

func TestPumpService_LogsPumpScopedEvents(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc, err := NewPumpService(testConfig(), interfaces.NewMemoryCurveStore(), nil, nil, logger)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.GetAdjustedCurve(ctx, "UNKNOWN-1", 1, 60)
	require.NoError(t, err)
	_, err = svc.SaveCurve(ctx, threePointCurve(t))
	require.NoError(t, err)
	_, err = svc.AddMaintenanceRecord(ctx, models.MaintenanceRecord{PumpID: "ESP-A", YearsInService: 1, Efficiency: 62})
	require.NoError(t, err)

	var entries []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "pump_service", entry["component"])
		entries = append(entries, entry)
	}
	require.Len(t, entries, 3)
	assert.Equal(t, OpAdjustedCurve, entries[0]["operation"])
	assert.Equal(t, "UNKNOWN-1", entries[0]["pump_id"])
	assert.Equal(t, "curve_stored", entries[1]["event_type"])
	assert.Equal(t, "business", entries[1]["event"])
	assert.Equal(t, "maintenance_recorded", entries[2]["event_type"])
}
