package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/services"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*services.PumpService, *interfaces.MemoryCurveStore) {
	t.Helper()
	return newTestEngineWithStrategy(t, services.ScalingPassThrough)
}

func newTestEngineWithStrategy(t *testing.T, strategy string) (*services.PumpService, *interfaces.MemoryCurveStore) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Engine.ScalingStrategy = strategy
	cfg.Engine.Optimizer.MaxGenerations = 20
	cfg.Engine.Intersection.GridPoints = 200

	store := interfaces.NewMemoryCurveStore()
	svc, err := services.NewPumpService(cfg, store, nil, nil, discardLogger())
	require.NoError(t, err)
	return svc, store
}

func newTestTasks(t *testing.T) *services.TaskManager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tm := services.NewTaskManager(config.TasksConfig{MaxConcurrent: 2, Retention: "1h"}, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tm.Shutdown(ctx)
	})
	return tm
}

func referencePoints() []models.CurvePoint {
	return []models.CurvePoint{
		{Flow: 0, Head: 300, Power: 20, Efficiency: 0},
		{Flow: 1000, Head: 250, Power: 40, Efficiency: 65},
		{Flow: 2000, Head: 100, Power: 55, Efficiency: 40},
	}
}

func seedCurve(t *testing.T, svc *services.PumpService, pumpID string) *models.PerformanceCurve {
	t.Helper()
	curve, err := models.NewPerformanceCurve(pumpID, referencePoints(), 60, 1)
	require.NoError(t, err)
	saved, err := svc.SaveCurve(context.Background(), curve)
	require.NoError(t, err)
	return saved
}

func performRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func waitForTask(t *testing.T, tasks *services.TaskManager, id string) services.Task {
	t.Helper()
	var task services.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = tasks.Get(id)
		return err == nil && task.State.Terminal()
	}, 10*time.Second, 10*time.Millisecond)
	return task
}
