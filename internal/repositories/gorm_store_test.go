package repositories_test

import (
	"context"
	"testing"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type GormStoreSuite struct {
	suite.Suite
	pool  *database.DatabasePool
	store *repositories.GormStore
	ctx   context.Context
	base  time.Time
}

func (s *GormStoreSuite) SetupTest() {
	pool, err := database.NewMemoryPool("gorm_store_" + uuid.Must(uuid.NewV4()).String())
	s.Require().NoError(err)
	s.Require().NoError(database.MigrateDirectory(pool.DB))

	s.pool = pool
	s.store = repositories.NewGormStore(pool.DB)
	s.ctx = context.Background()
	s.base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
}

func (s *GormStoreSuite) TearDownTest() {
	s.pool.Close()
}

func (s *GormStoreSuite) user(name, email string, role models.Role, offset time.Duration) *models.User {
	u := &models.User{
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: s.base.Add(offset),
		UpdatedAt: s.base.Add(offset),
	}
	s.Require().NoError(s.store.CreateUser(s.ctx, u))
	return u
}

func (s *GormStoreSuite) task(title string, assignee uuid.UUID, offset time.Duration) *models.Task {
	t := &models.Task{
		Title:      title,
		AssignedTo: assignee,
		AssignedBy: uuid.Must(uuid.NewV4()),
		Status:     models.StatusPending,
		Priority:   models.PriorityMedium,
		CreatedAt:  s.base.Add(offset),
		UpdatedAt:  s.base.Add(offset),
	}
	s.Require().NoError(s.store.CreateTask(s.ctx, t))
	return t
}

func (s *GormStoreSuite) TestCreateUser_AssignsIDAndNormalizesEmail() {
	u := s.user("Ada", "  Ada@Example.com ", models.RoleUser, 0)

	s.NotEqual(uuid.Nil, u.ID)

	got, err := s.store.GetUserByEmail(s.ctx, "ADA@example.com")
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)
	s.Equal("ada@example.com", got.Email)
}

func (s *GormStoreSuite) TestCreateUser_DuplicateEmail() {
	s.user("Ada", "ada@example.com", models.RoleUser, 0)

	err := s.store.CreateUser(s.ctx, &models.User{Name: "Other", Email: "ada@example.com", Role: models.RoleUser})

	code, ok := apperrors.AuthCode(err)
	s.True(ok)
	s.Equal(apperrors.CodeEmailAlreadyInUse, code)
}

func (s *GormStoreSuite) TestListUsers_NewestFirst() {
	first := s.user("First", "first@example.com", models.RoleUser, 0)
	second := s.user("Second", "second@example.com", models.RoleAdmin, time.Minute)

	users, err := s.store.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal(second.ID, users[0].ID)
	s.Equal(first.ID, users[1].ID)

	n, err := s.store.CountUsers(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(2, n)
}

func (s *GormStoreSuite) TestListUsersByRole_ExcludesAdmins() {
	s.user("Admin", "admin@example.com", models.RoleAdmin, 0)
	a := s.user("A", "a@x.com", models.RoleUser, time.Minute)
	b := s.user("B", "b@x.com", models.RoleUser, 2*time.Minute)

	users, err := s.store.ListUsersByRole(s.ctx, models.RoleUser)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	for _, u := range users {
		s.Equal(models.RoleUser, u.Role)
	}
	s.ElementsMatch([]uuid.UUID{a.ID, b.ID}, []uuid.UUID{users[0].ID, users[1].ID})
}

func (s *GormStoreSuite) TestUpdateUser_AppliesPatch() {
	u := s.user("Ada", "ada@example.com", models.RoleUser, 0)
	role := models.RoleAdmin
	name := "Ada L."
	later := s.base.Add(time.Hour)

	got, err := s.store.UpdateUser(s.ctx, u.ID, models.UserPatch{Name: &name, Role: &role}, later)
	s.Require().NoError(err)
	s.Equal("Ada L.", got.Name)
	s.Equal(models.RoleAdmin, got.Role)
	s.Equal("ada@example.com", got.Email)
	s.True(got.UpdatedAt.Equal(later))
}

func (s *GormStoreSuite) TestUpdateUser_Missing() {
	name := "x"
	_, err := s.store.UpdateUser(s.ctx, uuid.Must(uuid.NewV4()), models.UserPatch{Name: &name}, s.base)
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *GormStoreSuite) TestDeleteUser() {
	u := s.user("Ada", "ada@example.com", models.RoleUser, 0)

	s.Require().NoError(s.store.DeleteUser(s.ctx, u.ID))

	_, err := s.store.GetUser(s.ctx, u.ID)
	s.ErrorIs(err, apperrors.ErrNotFound)

	err = s.store.DeleteUser(s.ctx, u.ID)
	s.ErrorIs(err, apperrors.ErrNotFound)
	s.False(apperrors.IsStore(err))
}

func (s *GormStoreSuite) TestTaskRoundTrip() {
	assignee := s.user("A", "a@x.com", models.RoleUser, 0)
	deadline := s.base.Add(48 * time.Hour)
	in := &models.Task{
		Title:          "T",
		Description:    "details",
		AssignedTo:     assignee.ID,
		AssignedBy:     uuid.Must(uuid.NewV4()),
		AssignedByName: "Admin",
		Status:         models.StatusPending,
		Priority:       models.PriorityHigh,
		Deadline:       &deadline,
		CreatedAt:      s.base,
		UpdatedAt:      s.base,
	}
	s.Require().NoError(s.store.CreateTask(s.ctx, in))

	got, err := s.store.GetTask(s.ctx, in.ID)
	s.Require().NoError(err)
	s.Equal(in.Title, got.Title)
	s.Equal(in.Description, got.Description)
	s.Equal(in.AssignedTo, got.AssignedTo)
	s.Equal(in.AssignedBy, got.AssignedBy)
	s.Equal("Admin", got.AssignedByName)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(models.PriorityHigh, got.Priority)
	s.Require().NotNil(got.Deadline)
	s.True(got.Deadline.Equal(deadline))
}

func (s *GormStoreSuite) TestListTasksByAssignee() {
	a := s.user("A", "a@x.com", models.RoleUser, 0)
	b := s.user("B", "b@x.com", models.RoleUser, 0)
	older := s.task("older", a.ID, 0)
	newer := s.task("newer", a.ID, time.Minute)
	s.task("other", b.ID, 2*time.Minute)

	s.True(s.store.SupportsSortedAssigneeQuery())

	sorted, err := s.store.ListTasksByAssigneeSorted(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Require().Len(sorted, 2)
	s.Equal(newer.ID, sorted[0].ID)
	s.Equal(older.ID, sorted[1].ID)

	unsorted, err := s.store.ListTasksByAssignee(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Len(unsorted, 2)

	all, err := s.store.ListTasks(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("other", all[0].Title)
}

func (s *GormStoreSuite) TestUpdateTaskStatus_OnlyStatusAndTimestamp() {
	a := s.user("A", "a@x.com", models.RoleUser, 0)
	t := s.task("T", a.ID, 0)
	later := s.base.Add(time.Hour)

	got, err := s.store.UpdateTaskStatus(s.ctx, t.ID, models.StatusCompleted, later)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
	s.True(got.UpdatedAt.Equal(later))
	s.Equal("T", got.Title)
	s.Equal(models.PriorityMedium, got.Priority)
}

func (s *GormStoreSuite) TestUpdateTask_SetAndClearDeadline() {
	a := s.user("A", "a@x.com", models.RoleUser, 0)
	t := s.task("T", a.ID, 0)
	deadline := s.base.Add(24 * time.Hour)
	title := "Renamed"

	got, err := s.store.UpdateTask(s.ctx, t.ID, models.TaskPatch{Title: &title, Deadline: &deadline}, s.base.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal("Renamed", got.Title)
	s.Require().NotNil(got.Deadline)

	got, err = s.store.UpdateTask(s.ctx, t.ID, models.TaskPatch{ClearDeadline: true}, s.base.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Nil(got.Deadline)
	s.Equal(t.AssignedBy, got.AssignedBy)
}

func (s *GormStoreSuite) TestDeleteTask_MissingIsNotFound() {
	a := s.user("A", "a@x.com", models.RoleUser, 0)
	t := s.task("T", a.ID, 0)

	s.Require().NoError(s.store.DeleteTask(s.ctx, t.ID))

	tasks, err := s.store.ListTasks(s.ctx)
	s.Require().NoError(err)
	s.Empty(tasks)

	s.ErrorIs(s.store.DeleteTask(s.ctx, t.ID), apperrors.ErrNotFound)
}

func (s *GormStoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func TestGormStoreSuite(t *testing.T) {
	suite.Run(t, new(GormStoreSuite))
}

func TestGormStore_StoreFailureIsStoreError(t *testing.T) {
	pool, err := database.NewMemoryPool("gorm_store_broken")
	require.NoError(t, err)
	store := repositories.NewGormStore(pool.DB)

	// no migration: the tasks table does not exist
	_, err = store.ListTasks(context.Background())
	assert.True(t, apperrors.IsStore(err))
	assert.False(t, store.SupportsSortedAssigneeQuery())

	pool.Close()
}

func TestGormStore_IndexLookedUpAtConstruction(t *testing.T) {
	pool, err := database.NewMemoryPool("gorm_store_index")
	require.NoError(t, err)
	defer pool.Close()

	early := repositories.NewGormStore(pool.DB)
	require.NoError(t, database.MigrateDirectory(pool.DB))

	assert.False(t, early.SupportsSortedAssigneeQuery(), "capability is fixed when the store is built")
	assert.True(t, repositories.NewGormStore(pool.DB).SupportsSortedAssigneeQuery())
}
