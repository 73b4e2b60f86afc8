package repositories

import (
	"context"
	"time"

	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
)

// UserStore is the users collection of the directory.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch models.UserPatch, now time.Time) (*models.User, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// TaskStore is the tasks collection of the directory.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	// ListTasks returns every task, newest first.
	ListTasks(ctx context.Context) ([]models.Task, error)
	// ListTasksByAssignee returns the tasks assigned to userID in no
	// particular order.
	ListTasksByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	// ListTasksByAssigneeSorted returns the tasks assigned to userID, newest
	// first. Only call it when SupportsSortedAssigneeQuery reports true.
	ListTasksByAssigneeSorted(ctx context.Context, userID uuid.UUID) ([]models.Task, error)
	SupportsSortedAssigneeQuery() bool
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, now time.Time) (*models.Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch, now time.Time) (*models.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
}

// DirectoryStore holds both collections behind one connection.
type DirectoryStore interface {
	UserStore
	TaskStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var (
	_ DirectoryStore = (*GormStore)(nil)
	_ DirectoryStore = (*MongoStore)(nil)
)
