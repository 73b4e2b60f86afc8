package services

import (
	"context"
	"fmt"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/errgroup"
)

const recentTaskCount = 5

type Overview struct {
	Stats       models.TaskStats `json:"stats"`
	RecentTasks []TaskView       `json:"recent_tasks"`
	Users       []models.User    `json:"users"`
}

type MyTasks struct {
	Stats models.TaskStats `json:"stats"`
	Tasks []TaskView       `json:"tasks"`
}

// TaskView is a task as listed on a dashboard, with the derived overdue flag.
type TaskView struct {
	models.Task
	Overdue      bool   `json:"overdue"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

// Dashboard is what /api/dashboard returns: exactly one of the two bodies,
// chosen by the session's view.
type Dashboard struct {
	View     string    `json:"view"`
	Tabs     []string  `json:"tabs"`
	Overview *Overview `json:"overview,omitempty"`
	MyTasks  *MyTasks  `json:"my_tasks,omitempty"`
}

type DashboardService interface {
	Overview(ctx context.Context) (*Overview, error)
	MyTasks(ctx context.Context, userID uuid.UUID) (*MyTasks, error)
	For(ctx context.Context, session *authz.Session) (*Dashboard, error)
}

type DashboardServiceImpl struct {
	tasks TaskService
	users repositories.UserStore
	now   func() time.Time
}

func NewDashboardService(tasks TaskService, users repositories.UserStore) *DashboardServiceImpl {
	return &DashboardServiceImpl{tasks: tasks, users: users, now: time.Now}
}

// Overview loads tasks and users concurrently and derives the statistics.
func (s *DashboardServiceImpl) Overview(ctx context.Context) (*Overview, error) {
	var (
		tasks []models.Task
		users []models.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = s.tasks.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		users, err = s.users.ListUsers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	names := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	recent := tasks
	if len(recent) > recentTaskCount {
		recent = recent[:recentTaskCount]
	}
	return &Overview{
		Stats:       models.ComputeTaskStats(tasks, len(users), now),
		RecentTasks: taskViews(recent, names, now),
		Users:       users,
	}, nil
}

func (s *DashboardServiceImpl) MyTasks(ctx context.Context, userID uuid.UUID) (*MyTasks, error) {
	tasks, err := s.tasks.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &MyTasks{
		Stats: models.ComputeTaskStats(tasks, 0, now),
		Tasks: taskViews(tasks, nil, now),
	}, nil
}

func (s *DashboardServiceImpl) For(ctx context.Context, session *authz.Session) (*Dashboard, error) {
	if session == nil {
		return nil, apperrors.ErrForbidden
	}
	d := &Dashboard{View: string(session.Role()), Tabs: session.View.Tabs()}

	switch session.View.(type) {
	case authz.AdminView:
		overview, err := s.Overview(ctx)
		if err != nil {
			return nil, err
		}
		d.Overview = overview
	case authz.UserView:
		mine, err := s.MyTasks(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		d.MyTasks = mine
	default:
		return nil, fmt.Errorf("unknown view %T", session.View)
	}
	return d, nil
}

func taskViews(tasks []models.Task, names map[uuid.UUID]string, now time.Time) []TaskView {
	out := make([]TaskView, len(tasks))
	for i := range tasks {
		out[i] = TaskView{
			Task:         tasks[i],
			Overdue:      tasks[i].IsOverdue(now),
			AssigneeName: names[tasks[i].AssignedTo],
		}
	}
	return out
}
