package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/notify"
	"taskflow/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

const maxTitleLen = 200

type NewTask struct {
	Title       string
	Description string
	AssignedTo  uuid.UUID
	Priority    models.Priority
	// Status is accepted for compatibility and ignored: tasks start Pending.
	Status   models.TaskStatus
	Deadline *time.Time
}

type NotificationResult struct {
	Sent      bool   `json:"sent"`
	Queued    bool   `json:"queued"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type CreatedTask struct {
	Task         *models.Task       `json:"task"`
	Notification NotificationResult `json:"notification"`
}

type TaskService interface {
	Create(ctx context.Context, actor *authz.Session, req NewTask) (*CreatedTask, error)
	List(ctx context.Context) ([]models.Task, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	GetByID(ctx context.Context, actor *authz.Session, id uuid.UUID) (*models.Task, error)
	UpdateStatus(ctx context.Context, actor *authz.Session, id uuid.UUID, status models.TaskStatus) (*models.Task, error)
	Update(ctx context.Context, actor *authz.Session, id uuid.UUID, patch models.TaskPatch) (*models.Task, error)
	Delete(ctx context.Context, actor *authz.Session, id uuid.UUID) error
}

type TaskServiceImpl struct {
	tasks       repositories.TaskStore
	users       repositories.UserStore
	notifier    notify.Notifier
	sortedQuery bool
	logger      *logrus.Logger
	now         func() time.Time
}

// NewTaskService builds the task façade. sortedQuery enables the store's
// sorted assignee query when the store also reports support for it.
func NewTaskService(tasks repositories.TaskStore, users repositories.UserStore, notifier notify.Notifier, sortedQuery bool, logger *logrus.Logger) *TaskServiceImpl {
	return &TaskServiceImpl{
		tasks:       tasks,
		users:       users,
		notifier:    notifier,
		sortedQuery: sortedQuery,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *TaskServiceImpl) Create(ctx context.Context, actor *authz.Session, req NewTask) (*CreatedTask, error) {
	if err := actor.Require(authz.TasksManage); err != nil {
		return nil, err
	}

	title, err := validTitle(req.Title)
	if err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, apperrors.NewValidationError("priority", "priority must be low, medium or high")
	}
	assignee, err := s.assignee(ctx, req.AssignedTo)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &models.Task{
		Title:          title,
		Description:    strings.TrimSpace(req.Description),
		AssignedTo:     assignee.ID,
		AssignedBy:     actor.UserID,
		AssignedByName: actor.DisplayName(),
		Status:         models.StatusPending,
		Priority:       req.Priority,
		Deadline:       normalizeDeadline(req.Deadline),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	result := &CreatedTask{Task: task}
	receipt, err := s.notifier.NotifyAssignment(ctx, notify.Assignment{
		RecipientEmail: assignee.Email,
		Title:          task.Title,
		AssignerName:   task.AssignedByName,
		Details: notify.Details{
			Priority:    task.Priority,
			Deadline:    task.Deadline,
			Description: task.Description,
		},
	})
	if err != nil {
		nerr := &apperrors.NotificationError{Err: err}
		s.logger.WithError(nerr).WithField("task_id", task.ID).Warn("task created but assignee was not notified")
		result.Notification.Error = nerr.Error()
	} else {
		result.Notification = NotificationResult{
			Sent:      receipt.Success,
			Queued:    receipt.Queued,
			ReceiptID: receipt.ID,
		}
	}
	return result, nil
}

func (s *TaskServiceImpl) List(ctx context.Context) ([]models.Task, error) {
	return s.tasks.ListTasks(ctx)
}

// ListForUser returns the tasks assigned to userID, newest first.
func (s *TaskServiceImpl) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	if s.sortedQuery && s.tasks.SupportsSortedAssigneeQuery() {
		return s.tasks.ListTasksByAssigneeSorted(ctx, userID)
	}

	tasks, err := s.tasks.ListTasksByAssignee(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// GetByID returns a task the actor may see: any task for readers of all
// tasks, otherwise only tasks assigned to the actor.
func (s *TaskServiceImpl) GetByID(ctx context.Context, actor *authz.Session, id uuid.UUID) (*models.Task, error) {
	if err := actor.Require(authz.TasksReadAssigned); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanViewTask(actor, task) {
		return nil, apperrors.ErrForbidden
	}
	return task, nil
}

// UpdateStatus changes status and updated_at only. Users may move their own
// tasks; administrators any task.
func (s *TaskServiceImpl) UpdateStatus(ctx context.Context, actor *authz.Session, id uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("status", "status must be Pending, In Progress or Completed")
	}
	if err := actor.Require(authz.TasksUpdateStatus); err != nil {
		return nil, err
	}

	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !authz.CanUpdateTaskStatus(actor, task) {
		return nil, apperrors.ErrForbidden
	}
	return s.tasks.UpdateTaskStatus(ctx, id, status, s.now().UTC())
}

func (s *TaskServiceImpl) Update(ctx context.Context, actor *authz.Session, id uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	if err := actor.Require(authz.TasksManage); err != nil {
		return nil, err
	}

	if patch.Title != nil {
		title, err := validTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		patch.Description = &description
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, apperrors.NewValidationError("priority", "priority must be low, medium or high")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, apperrors.NewValidationError("status", "status must be Pending, In Progress or Completed")
	}
	if patch.AssignedTo != nil {
		if _, err := s.assignee(ctx, *patch.AssignedTo); err != nil {
			return nil, err
		}
	}
	if patch.Deadline != nil {
		patch.Deadline = normalizeDeadline(patch.Deadline)
		if patch.Deadline == nil {
			patch.ClearDeadline = true
		}
	}

	if patch.Empty() {
		return s.tasks.GetTask(ctx, id)
	}
	return s.tasks.UpdateTask(ctx, id, patch, s.now().UTC())
}

func (s *TaskServiceImpl) Delete(ctx context.Context, actor *authz.Session, id uuid.UUID) error {
	if err := actor.Require(authz.TasksManage); err != nil {
		return err
	}
	if err := s.tasks.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("task_id", id).Info("task deleted")
	return nil
}

func (s *TaskServiceImpl) assignee(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if id == uuid.Nil {
		return nil, apperrors.NewValidationError("assigned_to", "assignee is required")
	}
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NewValidationError("assigned_to", "assignee does not exist")
	}
	return user, err
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperrors.NewValidationError("title", "title is required")
	}
	if len(title) > maxTitleLen {
		return "", apperrors.NewValidationError("title", "title is too long")
	}
	return title, nil
}

// normalizeDeadline treats a zero time as unset.
func normalizeDeadline(deadline *time.Time) *time.Time {
	if deadline == nil || deadline.IsZero() {
		return nil
	}
	d := deadline.UTC()
	return &d
}
