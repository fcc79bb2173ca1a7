package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/esp-selector-go/internal/services"
)

type TaskHandler struct {
	tasks  TaskRunner
	logger *slog.Logger
}

func NewTaskHandler(tasks TaskRunner, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{tasks: tasks, logger: logger.With("component", "task_handler")}
}

// ListTasks returns known tasks, newest first. ?state= filters by lifecycle state.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks := h.tasks.List()
	if state := c.Query("state"); state != "" {
		filtered := make([]services.Task, 0, len(tasks))
		for _, task := range tasks {
			if string(task.State) == state {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask requests cancellation. Finished tasks are returned unchanged.
func (h *TaskHandler) CancelTask(c *gin.Context) {
	task, err := h.tasks.Cancel(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
