package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/server/validator"
	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/tasks"
	"github.com/nulzo/model-gateway/pkg/api"
)

type TasksHandler struct {
	runner *tasks.Runner
}

func NewTasksHandler(runner *tasks.Runner) *TasksHandler {
	return &TasksHandler{runner: runner}
}

// GET /api/tasks
func (h *TasksHandler) List(c *gin.Context) {
	list, err := h.runner.Tasks(c.Request.Context())
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to list tasks"))
		return
	}
	if list == nil {
		list = []model.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

type createTaskRequest struct {
	Name            string                 `json:"name" binding:"required,max=128"`
	Type            string                 `json:"type" binding:"required"`
	IntervalSeconds int64                  `json:"interval_seconds" binding:"gte=0"`
	Cron            string                 `json:"cron"`
	Params          map[string]interface{} `json:"params"`
}

// Create schedules a job by interval or cron expression.
//
// POST /api/tasks
func (h *TasksHandler) Create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	id, err := h.runner.Schedule(c.Request.Context(), tasks.JobSpec{
		Name:     req.Name,
		Type:     req.Type,
		Interval: time.Duration(req.IntervalSeconds) * time.Second,
		Cron:     req.Cron,
		Params:   req.Params,
	})
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to create task"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true, "id": id})
}

type enqueueResearchRequest struct {
	Query       string `json:"query" binding:"required"`
	Collection  string `json:"collection"`
	ScheduledAt int64  `json:"scheduled_at_unix_ms" binding:"gte=0"`
}

// EnqueueResearch queues a research job for the background runner.
//
// POST /api/research
func (h *TasksHandler) EnqueueResearch(c *gin.Context) {
	var req enqueueResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}
	var at time.Time
	if req.ScheduledAt > 0 {
		at = time.UnixMilli(req.ScheduledAt)
	}

	job, err := h.runner.Enqueue(c.Request.Context(), req.Query, req.Collection, at)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to enqueue research job"))
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GET /api/research/:id
func (h *TasksHandler) GetResearch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(api.BadRequestError("Invalid research job id"))
		return
	}
	job, err := h.runner.ResearchJob(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(problemFor(err, "Failed to load research job"))
		return
	}
	c.JSON(http.StatusOK, job)
}
