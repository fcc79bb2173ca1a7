package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/services"
)

func newTaskRouter(tasks TaskRunner) *gin.Engine {
	h := NewTaskHandler(tasks, discardLogger())
	router := gin.New()
	router.GET("/tasks", h.ListTasks)
	router.GET("/tasks/:id", h.GetTask)
	router.DELETE("/tasks/:id", h.CancelTask)
	return router
}

func TestTaskHandler_Lifecycle(t *testing.T) {
	tasks := newTestTasks(t)
	router := newTaskRouter(tasks)

	finished := tasks.Submit(services.TaskKindForecast, time.Minute, func(ctx context.Context) (any, error) {
		return "done", nil
	})
	waitForTask(t, tasks, finished.ID)

	blocking := tasks.Submit(services.TaskKindOptimize, time.Minute, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	w := performRequest(router, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Tasks []services.Task `json:"tasks"`
		Count int             `json:"count"`
	}](t, w)
	assert.Equal(t, 2, list.Count)

	w = performRequest(router, http.MethodGet, "/tasks?state=succeeded", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), finished.ID)
	assert.NotContains(t, w.Body.String(), blocking.ID)

	w = performRequest(router, http.MethodGet, "/tasks/"+finished.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[services.Task](t, w)
	assert.Equal(t, services.TaskSucceeded, got.State)
	assert.Equal(t, "done", got.Result)

	w = performRequest(router, http.MethodDelete, "/tasks/"+blocking.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.TaskCancelled, waitForTask(t, tasks, blocking.ID).State)
}

func TestTaskHandler_UnknownTask(t *testing.T) {
	router := newTaskRouter(newTestTasks(t))

	w := performRequest(router, http.MethodGet, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "task not found")

	w = performRequest(router, http.MethodDelete, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
