package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

func newTestTaskManager(workers int) *TaskManager {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewTaskManager(config.TasksConfig{MaxConcurrent: workers, Retention: "1m"}, nil, logger)
}

func waitForState(t *testing.T, tm *TaskManager, id string, want TaskState) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = tm.Get(id)
		return err == nil && task.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestTaskManager_DefaultWorkersFromCPUCount(t *testing.T) {
	tm := newTestTaskManager(0)
	assert.GreaterOrEqual(t, tm.Workers(), 1)
	assert.Equal(t, 3, newTestTaskManager(3).Workers())
}

func TestTaskManager_Succeeds(t *testing.T) {
	tm := newTestTaskManager(2)

	task := tm.Submit(TaskKindForecast, time.Second, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	assert.Equal(t, TaskKindForecast, task.Kind)

	done := waitForState(t, tm, task.ID, TaskSucceeded)
	assert.Equal(t, 42, done.Result)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Error)
}

func TestTaskManager_FailuresAndSoftFailures(t *testing.T) {
	tm := newTestTaskManager(2)

	failed := tm.Submit(TaskKindOptimize, time.Second, func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	soft := tm.Submit(TaskKindOptimize, time.Second, func(ctx context.Context) (any, error) {
		return "partial", fmt.Errorf("%w after 60 generations", utils.ErrOptimizationDidNotConverge)
	})
	panicked := tm.Submit(TaskKindOptimize, time.Second, func(ctx context.Context) (any, error) {
		panic("unexpected")
	})

	assert.Equal(t, "boom", waitForState(t, tm, failed.ID, TaskFailed).Error)

	softTask := waitForState(t, tm, soft.ID, TaskSucceeded)
	assert.Equal(t, "partial", softTask.Result)
	assert.Contains(t, softTask.Warning, "did not converge")

	assert.Contains(t, waitForState(t, tm, panicked.ID, TaskFailed).Error, "panicked")
}

func TestTaskManager_Cancel(t *testing.T) {
	tm := newTestTaskManager(1)
	started := make(chan struct{})

	task := tm.Submit(TaskKindOptimize, time.Minute, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	_, err := tm.Cancel(task.ID)
	require.NoError(t, err)
	waitForState(t, tm, task.ID, TaskCancelled)

	_, err = tm.Cancel("missing")
	assert.True(t, errors.Is(err, utils.ErrTaskNotFound))
}

func TestTaskManager_CancelWhileQueued(t *testing.T) {
	tm := newTestTaskManager(1)
	release := make(chan struct{})

	blocker := tm.Submit(TaskKindForecast, time.Minute, func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	waitForState(t, tm, blocker.ID, TaskRunning)

	queued := tm.Submit(TaskKindForecast, time.Minute, func(ctx context.Context) (any, error) {
		return "ran", nil
	})
	task, err := tm.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, task.State)

	_, err = tm.Cancel(queued.ID)
	require.NoError(t, err)
	waitForState(t, tm, queued.ID, TaskCancelled)

	close(release)
	waitForState(t, tm, blocker.ID, TaskSucceeded)
}

func TestTaskManager_Timeout(t *testing.T) {
	tm := newTestTaskManager(1)

	task := tm.Submit(TaskKindOptimize, 20*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	failed := waitForState(t, tm, task.ID, TaskFailed)
	assert.Contains(t, failed.Error, context.DeadlineExceeded.Error())
}

func TestTaskManager_ListAndSweep(t *testing.T) {
	tm := newTestTaskManager(2)

	a := tm.Submit(TaskKindForecast, 0, func(ctx context.Context) (any, error) { return 1, nil })
	b := tm.Submit(TaskKindForecast, 0, func(ctx context.Context) (any, error) { return 2, nil })
	waitForState(t, tm, a.ID, TaskSucceeded)
	waitForState(t, tm, b.ID, TaskSucceeded)

	assert.Len(t, tm.List(), 2)
	assert.Zero(t, tm.GetActiveTaskCount())

	assert.Zero(t, tm.Sweep(time.Now().UTC()))
	assert.Equal(t, 2, tm.Sweep(time.Now().UTC().Add(2*time.Minute)))
	assert.Empty(t, tm.List())

	_, err := tm.Get(a.ID)
	assert.True(t, errors.Is(err, utils.ErrTaskNotFound))
}

func TestTaskManager_Shutdown(t *testing.T) {
	tm := newTestTaskManager(2)

	task := tm.Submit(TaskKindOptimize, time.Minute, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	waitForState(t, tm, task.ID, TaskRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tm.Shutdown(ctx))

	final, err := tm.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, final.State)
}
