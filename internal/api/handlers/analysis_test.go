package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/services"
)

func newAnalysisRouter(t *testing.T) (*gin.Engine, *services.PumpService, *services.TaskManager) {
	t.Helper()
	svc, _ := newTestEngine(t)
	tasks := newTestTasks(t)
	h := NewAnalysisHandler(svc, tasks, time.Minute, discardLogger())

	router := gin.New()
	router.POST("/operating-point", h.FindOperatingPoint)
	router.POST("/degradation/forecast", h.Forecast)
	router.POST("/degradation/forecast/async", h.ForecastAsync)
	return router, svc, tasks
}

func TestAnalysisHandler_FindOperatingPoint_InlineCurve(t *testing.T) {
	router, _, _ := newAnalysisRouter(t)

	req := OperatingPointRequest{
		PumpSelector: PumpSelector{PumpCurve: &CurveInput{Points: referencePoints(), RatedFrequency: 60}},
		SystemCurve:  models.SystemCurve{StaticHead: 100, FrictionCoefficient: 0.00005},
	}
	w := performRequest(router, http.MethodPost, "/operating-point", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode[models.OperatingPointResult](t, w)
	require.True(t, result.Found)
	require.NotNil(t, result.Point)
	assert.False(t, result.Synthetic)
	assert.Greater(t, result.Point.Flow, 0.0)
	assert.Less(t, result.Point.Flow, 2000.0)
}

func TestAnalysisHandler_FindOperatingPoint_InlineCurveScaled(t *testing.T) {
	svc, _ := newTestEngineWithStrategy(t, services.ScalingAffinity)
	h := NewAnalysisHandler(svc, newTestTasks(t), time.Minute, discardLogger())
	router := gin.New()
	router.POST("/operating-point", h.FindOperatingPoint)

	singleStage := &CurveInput{
		Points: []models.CurvePoint{
			{Flow: 0, Head: 12, Power: 5, Efficiency: 0},
			{Flow: 100, Head: 10, Power: 8, Efficiency: 60},
			{Flow: 200, Head: 4, Power: 10, Efficiency: 40},
		},
		RatedFrequency: 60,
	}
	system := models.SystemCurve{StaticHead: 300}

	w := performRequest(router, http.MethodPost, "/operating-point", OperatingPointRequest{
		PumpSelector: PumpSelector{PumpCurve: singleStage},
		SystemCurve:  system,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	unscaled := decode[models.OperatingPointResult](t, w)
	assert.False(t, unscaled.Found, "one stage cannot lift 300")
	assert.Equal(t, models.NoPointOutsideTolerance, unscaled.Reason)

	stages, frequency := 50, 60.0
	w = performRequest(router, http.MethodPost, "/operating-point", OperatingPointRequest{
		PumpSelector: PumpSelector{PumpCurve: singleStage, Stages: &stages, Frequency: &frequency},
		SystemCurve:  system,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	scaled := decode[models.OperatingPointResult](t, w)
	require.True(t, scaled.Found, w.Body.String())
	require.NotNil(t, scaled.Point)
	assert.Greater(t, scaled.Point.Flow, 100.0)
	assert.Less(t, scaled.Point.Flow, 200.0)
	assert.InDelta(t, 300.0, scaled.Point.Head, 5.0)

	zero := 0
	w = performRequest(router, http.MethodPost, "/operating-point", OperatingPointRequest{
		PumpSelector: PumpSelector{PumpCurve: singleStage, Stages: &zero},
		SystemCurve:  system,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisHandler_FindOperatingPoint_NoOverlap(t *testing.T) {
	router, _, _ := newAnalysisRouter(t)

	req := OperatingPointRequest{
		PumpSelector: PumpSelector{PumpID: "UNKNOWN-7"},
		SystemCurve:  models.SystemCurve{StaticHead: 10, FlowMin: 5000, FlowMax: 6000},
	}
	w := performRequest(router, http.MethodPost, "/operating-point", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode[models.OperatingPointResult](t, w)
	assert.False(t, result.Found)
	assert.Nil(t, result.Point)
	assert.Equal(t, models.NoPointEmptyOverlap, result.Reason)
	assert.True(t, result.Synthetic)
}

func TestAnalysisHandler_FindOperatingPoint_BadRequests(t *testing.T) {
	router, _, _ := newAnalysisRouter(t)

	tests := []struct {
		name string
		body any
	}{
		{"no pump", OperatingPointRequest{SystemCurve: models.SystemCurve{StaticHead: 10}}},
		{"negative static head", OperatingPointRequest{
			PumpSelector: PumpSelector{PumpID: "ESP-A"},
			SystemCurve:  models.SystemCurve{StaticHead: -1},
		}},
		{"single point curve", OperatingPointRequest{
			PumpSelector: PumpSelector{PumpCurve: &CurveInput{Points: referencePoints()[:1], RatedFrequency: 60}},
		}},
		{"malformed", `{"system_curve": [}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(router, http.MethodPost, "/operating-point", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestAnalysisHandler_Forecast(t *testing.T) {
	router, _, _ := newAnalysisRouter(t)

	req := ForecastRequest{
		PumpSelector: PumpSelector{PumpCurve: &CurveInput{Points: referencePoints(), RatedFrequency: 60}},
		Years:        5,
	}
	w := performRequest(router, http.MethodPost, "/degradation/forecast", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	forecast := decode[models.DegradationForecast](t, w)
	assert.Equal(t, 5, forecast.Years)
	require.Len(t, forecast.Snapshots, 6)
	assert.Equal(t, 0, forecast.Snapshots[0].Year)
	assert.LessOrEqual(t, forecast.Snapshots[5].Efficiency, forecast.Snapshots[0].Efficiency)
	assert.NotEmpty(t, forecast.Recommendation.Action)
}

func TestAnalysisHandler_Forecast_StoredPump(t *testing.T) {
	router, svc, _ := newAnalysisRouter(t)
	seedCurve(t, svc, "ESP-A")

	w := performRequest(router, http.MethodPost, "/degradation/forecast", ForecastRequest{
		PumpSelector: PumpSelector{PumpID: "ESP-A"},
		Years:        3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	forecast := decode[models.DegradationForecast](t, w)
	assert.Equal(t, "ESP-A", forecast.PumpID)
	assert.False(t, forecast.Synthetic)
}

func TestAnalysisHandler_Forecast_Rejected(t *testing.T) {
	router, _, _ := newAnalysisRouter(t)

	w := performRequest(router, http.MethodPost, "/degradation/forecast", ForecastRequest{
		PumpSelector: PumpSelector{PumpID: "ESP-A"},
		Years:        -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/degradation/forecast", ForecastRequest{Years: 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pump_curve or pump_id")

	w = performRequest(router, http.MethodPost, "/degradation/forecast", ForecastRequest{
		PumpSelector: PumpSelector{PumpID: "ESP-A"},
		Years:        500,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisHandler_ForecastAsync(t *testing.T) {
	router, _, tasks := newAnalysisRouter(t)

	w := performRequest(router, http.MethodPost, "/degradation/forecast/async", ForecastRequest{
		PumpSelector: PumpSelector{PumpID: "UNKNOWN-2"},
		Years:        4,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	task := decode[services.Task](t, w)
	assert.Equal(t, services.TaskKindForecast, task.Kind)

	done := waitForTask(t, tasks, task.ID)
	require.Equal(t, services.TaskSucceeded, done.State, done.Error)
	forecast, ok := done.Result.(*models.DegradationForecast)
	require.True(t, ok)
	assert.Len(t, forecast.Snapshots, 5)
	assert.True(t, forecast.Synthetic)
}
