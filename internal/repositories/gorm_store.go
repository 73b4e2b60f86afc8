package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// GormStore keeps the directory in the relational database.
type GormStore struct {
	db          *gorm.DB
	sortedIndex bool
}

// NewGormStore expects a migrated schema. The assignee index is looked up
// once here.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:          db,
		sortedIndex: db.Migrator().HasIndex(&models.Task{}, "idx_tasks_assignee_created"),
	}
}

// SupportsSortedAssigneeQuery is backed by idx_tasks_assignee_created, which
// the migration creates with the tasks table.
func (s *GormStore) SupportsSortedAssigneeQuery() bool {
	return s.sortedIndex
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op: the pool owns the connection.
func (s *GormStore) Close(ctx context.Context) error {
	return nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperrors.Store("save user", err)
		}
		user.ID = id
	}
	user.Email = normalizeEmail(user.Email)
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translateUserError("save user", err)
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate("load user", err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, translate("load user", err)
	}
	return &user, nil
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, apperrors.Store("load users", err)
	}
	return users, nil
}

func (s *GormStore) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("role = ?", role).
		Order("created_at DESC").
		Find(&users).Error
	if err != nil {
		return nil, apperrors.Store("load users", err)
	}
	return users, nil
}

func (s *GormStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
		return 0, apperrors.Store("load users", err)
	}
	return n, nil
}

func (s *GormStore) UpdateUser(ctx context.Context, id uuid.UUID, patch models.UserPatch, now time.Time) (*models.User, error) {
	updates := map[string]interface{}{"updated_at": now}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Email != nil {
		updates["email"] = normalizeEmail(*patch.Email)
	}
	if patch.Role != nil {
		updates["role"] = *patch.Role
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, translateUserError("save user", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *GormStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if res.Error != nil {
		return apperrors.Store("delete user", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperrors.Store("save task", err)
		}
		task.ID = id
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return apperrors.Store("save task", err)
	}
	return nil
}

func (s *GormStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, translate("load task", err)
	}
	return &task, nil
}

func (s *GormStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, apperrors.Store("load tasks", err)
	}
	return tasks, nil
}

func (s *GormStore) ListTasksByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	if err := s.db.WithContext(ctx).Where("assigned_to = ?", userID).Find(&tasks).Error; err != nil {
		return nil, apperrors.Store("load tasks", err)
	}
	return tasks, nil
}

func (s *GormStore) ListTasksByAssigneeSorted(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("assigned_to = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, apperrors.Store("load tasks", err)
	}
	return tasks, nil
}

func (s *GormStore) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, now time.Time) (*models.Task, error) {
	res := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": now})
	if res.Error != nil {
		return nil, apperrors.Store("save task", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetTask(ctx, id)
}

func (s *GormStore) UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch, now time.Time) (*models.Task, error) {
	updates := map[string]interface{}{"updated_at": now}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.AssignedTo != nil {
		updates["assigned_to"] = *patch.AssignedTo
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.ClearDeadline {
		updates["deadline"] = nil
	} else if patch.Deadline != nil {
		updates["deadline"] = *patch.Deadline
	}

	res := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, apperrors.Store("save task", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetTask(ctx, id)
}

func (s *GormStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if res.Error != nil {
		return apperrors.Store("delete task", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func translate(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return apperrors.Store(op, err)
}

func translateUserError(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return emailInUse()
	}
	return apperrors.Store(op, err)
}

func emailInUse() error {
	return &apperrors.ValidationError{
		Field:   "email",
		Code:    apperrors.CodeEmailAlreadyInUse,
		Message: apperrors.Reason(apperrors.CodeEmailAlreadyInUse),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
