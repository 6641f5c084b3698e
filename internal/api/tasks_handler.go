package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/bookcrawl/internal/database"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
	"github.com/jonesrussell/bookcrawl/internal/sites"
)

const (
	defaultLimit  = 50
	defaultOffset = 0
)

// CreateTaskRequest is the body of POST /api/v1/tasks.
type CreateTaskRequest struct {
	Type       string         `json:"type" binding:"required"`
	TargetSite string         `json:"target_site" binding:"required"`
	Params     map[string]any `json:"params"`
	Priority   int            `json:"priority"`
}

// TasksHandler handles task-related HTTP requests.
type TasksHandler struct {
	store    database.TaskStore
	registry *sites.Registry
	log      logger.Logger
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(store database.TaskStore, registry *sites.Registry, log logger.Logger) *TasksHandler {
	return &TasksHandler{store: store, registry: registry, log: log}
}

// CreateTask handles POST /api/v1/tasks
func (h *TasksHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	task := &domain.Task{
		ID:         uuid.NewString(),
		Type:       domain.TaskType(req.Type),
		TargetSite: req.TargetSite,
		Params:     domain.JSONBMap(req.Params),
		Priority:   req.Priority,
		Status:     domain.TaskStatusPending,
	}
	if task.Params == nil {
		task.Params = domain.JSONBMap{}
	}

	// Reject tasks nothing can execute.
	if _, err := h.registry.Lookup(task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if err := h.store.Create(c.Request.Context(), task); err != nil {
		h.log.Error("failed to create task", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create task",
		})
		return
	}

	c.JSON(http.StatusCreated, task)
}

// ListTasks handles GET /api/v1/tasks
func (h *TasksHandler) ListTasks(c *gin.Context) {
	status := c.Query("status")
	limitStr := c.DefaultQuery("limit", strconv.Itoa(defaultLimit))
	offsetStr := c.DefaultQuery("offset", strconv.Itoa(defaultOffset))

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}

	offset, err := strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		offset = defaultOffset
	}

	tasks, err := h.store.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.log.Error("failed to list tasks", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve tasks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTask handles GET /api/v1/tasks/:id
func (h *TasksHandler) GetTask(c *gin.Context) {
	id := c.Param("id")

	task, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return
		}
		h.log.Error("failed to get task", logger.String("task_id", id), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve task",
		})
		return
	}

	c.JSON(http.StatusOK, task)
}

// CancelTask handles POST /api/v1/tasks/:id/cancel
func (h *TasksHandler) CancelTask(c *gin.Context) {
	id := c.Param("id")

	err := h.store.Cancel(c.Request.Context(), id, time.Now())
	if err != nil {
		if errors.Is(err, database.ErrTaskNotPending) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Only pending tasks can be cancelled",
			})
			return
		}
		h.log.Error("failed to cancel task", logger.String("task_id", id), logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel task",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "cancelled",
	})
}

// Stats handles GET /api/v1/tasks/stats
func (h *TasksHandler) Stats(c *gin.Context) {
	stats, err := h.store.StatsBySite(c.Request.Context())
	if err != nil {
		h.log.Error("failed to get task stats", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve task stats",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

// RetryFailed handles POST /api/v1/tasks/retry-failed
func (h *TasksHandler) RetryFailed(c *gin.Context) {
	n, err := h.store.RetryFailed(c.Request.Context())
	if err != nil {
		h.log.Error("failed to retry failed tasks", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry tasks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"retried": n,
	})
}
