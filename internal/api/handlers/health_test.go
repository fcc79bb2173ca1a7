package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestHealthHandler_HealthCheck(t *testing.T) {
	db := new(MockHealthChecker)
	db.On("HealthCheck", mock.Anything).Return(nil)
	redis := new(MockHealthChecker)
	redis.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	tests := []struct {
		name    string
		checks  map[string]HealthChecker
		status  int
		storage string
		state   string
	}{
		{"in-memory", nil, http.StatusOK, "memory", "healthy"},
		{"postgres only", map[string]HealthChecker{"database": db, "redis": nil}, http.StatusOK, "postgres", "healthy"},
		{"redis down", map[string]HealthChecker{"database": db, "redis": redis}, http.StatusServiceUnavailable, "postgres", "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("1.2.3", tt.checks)
			w := httptest.NewRecorder()
			h.HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
			resp := decode[HealthResponse](t, w)
			assert.Equal(t, tt.state, resp.Status)
			assert.Equal(t, tt.storage, resp.Storage)
			assert.Equal(t, "1.2.3", resp.Version)
		})
	}
}

func TestHealthHandler_ReadinessAndLiveness(t *testing.T) {
	redis := new(MockHealthChecker)
	redis.On("HealthCheck", mock.Anything).Return(errors.New("timeout"))
	h := NewHealthHandler("dev", map[string]HealthChecker{"redis": redis})

	w := httptest.NewRecorder()
	h.ReadinessCheck(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"ready":false,"not_ready":["redis"]}`, w.Body.String())

	w = httptest.NewRecorder()
	h.LivenessCheck(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"alive"`)
}
