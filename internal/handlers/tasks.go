package handlers

import (
	"net/http"

	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskHandler struct {
	taskService services.TaskService
}

func NewTaskHandler(taskService services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

type CreateTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to" binding:"required"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Deadline    string `json:"deadline"`
}

// UpdateTaskRequest is a partial edit. An empty deadline string, or
// clear_deadline, removes the deadline.
type UpdateTaskRequest struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	AssignedTo    *string `json:"assigned_to"`
	Priority      *string `json:"priority"`
	Status        *string `json:"status"`
	Deadline      *string `json:"deadline"`
	ClearDeadline bool    `json:"clear_deadline"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	assignee, err := uuid.FromString(req.AssignedTo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": "assigned_to", "message": "assignee must be a user id"})
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		respondError(c, err)
		return
	}

	created, err := h.taskService.Create(c.Request.Context(), session(c), services.NewTask{
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  assignee,
		Priority:    models.Priority(req.Priority),
		Status:      models.TaskStatus(req.Status),
		Deadline:    deadline,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	tasks, err := h.taskService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *TaskHandler) GetMyTasks(c *gin.Context) {
	s := session(c)
	if s == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_session"})
		return
	}
	tasks, err := h.taskService.ListForUser(c.Request.Context(), s.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *TaskHandler) GetTaskByID(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := h.taskService.GetByID(c.Request.Context(), session(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	patch := models.TaskPatch{
		Title:         req.Title,
		Description:   req.Description,
		ClearDeadline: req.ClearDeadline,
	}
	if req.AssignedTo != nil {
		assignee, err := uuid.FromString(*req.AssignedTo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": "assigned_to", "message": "assignee must be a user id"})
			return
		}
		patch.AssignedTo = &assignee
	}
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		patch.Priority = &p
	}
	if req.Status != nil {
		s := models.TaskStatus(*req.Status)
		patch.Status = &s
	}
	if req.Deadline != nil {
		deadline, err := parseDeadline(*req.Deadline)
		if err != nil {
			respondError(c, err)
			return
		}
		if deadline == nil {
			patch.ClearDeadline = true
		}
		patch.Deadline = deadline
	}

	task, err := h.taskService.Update(c.Request.Context(), session(c), id, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTaskStatus(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	task, err := h.taskService.UpdateStatus(c.Request.Context(), session(c), id, models.TaskStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.taskService.Delete(c.Request.Context(), session(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
