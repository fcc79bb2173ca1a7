package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/metrics"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

// TaskState is the lifecycle state of an asynchronous engine task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the task has finished.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task kinds.
const (
	TaskKindOptimize = "optimize"
	TaskKindForecast = "forecast"
)

// Task is a snapshot of an asynchronous run. Result is set for succeeded tasks;
// Warning carries soft failures such as a non-converged optimization.
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	State      TaskState  `json:"state"`
	Timeout    string     `json:"timeout"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	Warning    string     `json:"warning,omitempty"`
}

// TaskFunc is the body of a task. It must honour ctx cancellation.
type TaskFunc func(ctx context.Context) (any, error)

type taskEntry struct {
	task      Task
	cancel    context.CancelFunc
	cancelled bool
}

// TaskManager runs engine work in the background with a bounded number of workers,
// per-task timeouts and cancellation.
type TaskManager struct {
	logger    *logrus.Logger
	metrics   *metrics.MetricsCollector
	retention time.Duration
	slots     chan struct{}

	mu    sync.RWMutex
	tasks map[string]*taskEntry
	wg    sync.WaitGroup
}

// NewTaskManager creates a task manager. A non-positive MaxConcurrent sizes the
// worker pool to the number of physical CPUs.
func NewTaskManager(cfg config.TasksConfig, collector *metrics.MetricsCollector, logger *logrus.Logger) *TaskManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = physicalCPUs()
	}
	logger.WithField("workers", workers).Info("Task manager initialized")

	return &TaskManager{
		logger:    logger,
		metrics:   collector,
		retention: config.Duration(cfg.Retention, time.Hour),
		slots:     make(chan struct{}, workers),
		tasks:     make(map[string]*taskEntry),
	}
}

func physicalCPUs() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Workers returns the size of the worker pool.
func (tm *TaskManager) Workers() int {
	return cap(tm.slots)
}

// Submit queues fn and returns the pending task immediately.
func (tm *TaskManager) Submit(kind string, timeout time.Duration, fn TaskFunc) Task {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	entry := &taskEntry{
		task: Task{
			ID:        uuid.NewString(),
			Kind:      kind,
			State:     TaskPending,
			Timeout:   timeout.String(),
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}

	tm.mu.Lock()
	tm.tasks[entry.task.ID] = entry
	snapshot := entry.task
	tm.mu.Unlock()

	tm.wg.Add(1)
	go tm.run(ctx, entry, fn)

	return snapshot
}

func (tm *TaskManager) run(ctx context.Context, entry *taskEntry, fn TaskFunc) {
	defer tm.wg.Done()
	defer entry.cancel()

	select {
	case tm.slots <- struct{}{}:
	case <-ctx.Done():
		tm.finish(entry, nil, ctx.Err())
		return
	}
	defer func() { <-tm.slots }()

	tm.mu.Lock()
	if entry.cancelled {
		tm.mu.Unlock()
		tm.finish(entry, nil, context.Canceled)
		return
	}
	started := time.Now().UTC()
	entry.task.State = TaskRunning
	entry.task.StartedAt = &started
	kind := entry.task.Kind
	tm.mu.Unlock()

	if tm.metrics != nil {
		tm.metrics.TaskStarted(kind)
		defer tm.metrics.TaskFinished(kind)
	}

	result, err := tm.invoke(ctx, fn)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	tm.finish(entry, result, err)
}

func (tm *TaskManager) invoke(ctx context.Context, fn TaskFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (tm *TaskManager) finish(entry *taskEntry, result any, err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	finished := time.Now().UTC()
	entry.task.FinishedAt = &finished

	log := tm.logger.WithFields(logrus.Fields{"task_id": entry.task.ID, "kind": entry.task.Kind})
	switch {
	case err == nil:
		entry.task.State = TaskSucceeded
		entry.task.Result = result
	case errors.Is(err, utils.ErrOptimizationDidNotConverge) && result != nil:
		entry.task.State = TaskSucceeded
		entry.task.Result = result
		entry.task.Warning = err.Error()
	case entry.cancelled || errors.Is(err, context.Canceled):
		entry.task.State = TaskCancelled
		entry.task.Error = context.Canceled.Error()
	default:
		entry.task.State = TaskFailed
		entry.task.Error = err.Error()
		log.WithError(err).Warn("Task failed")
		return
	}
	log.WithField("state", entry.task.State).Debug("Task finished")
}

// Get returns a snapshot of the task.
func (tm *TaskManager) Get(id string) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	entry, ok := tm.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	return entry.task, nil
}

// Cancel requests cancellation. Finished tasks are returned unchanged.
func (tm *TaskManager) Cancel(id string) (Task, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	entry, ok := tm.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", utils.ErrTaskNotFound, id)
	}
	if !entry.task.State.Terminal() {
		entry.cancelled = true
		entry.cancel()
		tm.logger.WithField("task_id", id).Info("Task cancelled")
	}
	return entry.task, nil
}

// List returns all known tasks, newest first.
func (tm *TaskManager) List() []Task {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tasks := make([]Task, 0, len(tm.tasks))
	for _, entry := range tm.tasks {
		tasks = append(tasks, entry.task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks
}

// GetActiveTaskCount returns the number of tasks not yet finished.
func (tm *TaskManager) GetActiveTaskCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	count := 0
	for _, entry := range tm.tasks {
		if !entry.task.State.Terminal() {
			count++
		}
	}
	return count
}

// Sweep drops finished tasks older than the retention window and returns how many were removed.
func (tm *TaskManager) Sweep(now time.Time) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	for id, entry := range tm.tasks {
		if entry.task.FinishedAt != nil && now.Sub(*entry.task.FinishedAt) > tm.retention {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep periodically until ctx is done.
func (tm *TaskManager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := tm.Sweep(now.UTC()); n > 0 {
					tm.logger.WithField("removed", n).Debug("Swept finished tasks")
				}
			}
		}
	}()
}

// CancelAllTasks cancels all unfinished tasks.
func (tm *TaskManager) CancelAllTasks() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	for id, entry := range tm.tasks {
		if entry.task.State.Terminal() {
			continue
		}
		entry.cancelled = true
		entry.cancel()
		tm.logger.WithField("task_id", id).Info("Task cancelled during shutdown")
	}
}

// Shutdown cancels outstanding tasks and waits for their goroutines, bounded by ctx.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.CancelAllTasks()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
