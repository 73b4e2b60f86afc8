package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/handlers"
	"taskflow/backend/internal/middleware"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
)

type MockTaskService struct {
	mock.Mock
}

func (m *MockTaskService) Create(ctx context.Context, actor *authz.Session, req services.NewTask) (*services.CreatedTask, error) {
	args := m.Called(actor, req)
	created, _ := args.Get(0).(*services.CreatedTask)
	return created, args.Error(1)
}

func (m *MockTaskService) List(ctx context.Context) ([]models.Task, error) {
	args := m.Called()
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	args := m.Called(userID)
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

func (m *MockTaskService) GetByID(ctx context.Context, actor *authz.Session, id uuid.UUID) (*models.Task, error) {
	args := m.Called(actor, id)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTaskService) UpdateStatus(ctx context.Context, actor *authz.Session, id uuid.UUID, status models.TaskStatus) (*models.Task, error) {
	args := m.Called(actor, id, status)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTaskService) Update(ctx context.Context, actor *authz.Session, id uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	args := m.Called(actor, id, patch)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTaskService) Delete(ctx context.Context, actor *authz.Session, id uuid.UUID) error {
	return m.Called(actor, id).Error(0)
}

func adminSession() *authz.Session {
	return &authz.Session{UserID: uuid.Must(uuid.NewV4()), Email: "admin@example.com", Name: "Admin", View: authz.AdminView{}}
}

func userSession() *authz.Session {
	return &authz.Session{UserID: uuid.Must(uuid.NewV4()), Email: "user@example.com", Name: "User", View: authz.UserView{}}
}

// newRouter returns an engine whose requests carry the given session.
func newRouter(s *authz.Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if s != nil {
			middleware.SetSession(c, s)
		}
		c.Next()
	})
	return router
}

func setupTaskHandler(s *authz.Session) (*handlers.TaskHandler, *MockTaskService, *gin.Engine) {
	mockService := &MockTaskService{}
	return handlers.NewTaskHandler(mockService), mockService, newRouter(s)
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestCreateTask(t *testing.T) {
	s := adminSession()
	handler, svc, router := setupTaskHandler(s)
	router.POST("/tasks", handler.CreateTask)

	assignee := uuid.Must(uuid.NewV4())
	deadline := time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)
	svc.On("Create", s, services.NewTask{
		Title:      "Write report",
		AssignedTo: assignee,
		Priority:   models.PriorityHigh,
		Deadline:   &deadline,
	}).Return(&services.CreatedTask{
		Task:         &models.Task{ID: uuid.Must(uuid.NewV4()), Title: "Write report", Status: models.StatusPending},
		Notification: services.NotificationResult{Sent: true},
	}, nil)

	w := doJSON(router, http.MethodPost, "/tasks", map[string]any{
		"title":       "Write report",
		"assigned_to": assignee.String(),
		"priority":    "high",
		"deadline":    "2030-01-15",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	svc.AssertExpectations(t)
}

func TestCreateTaskInvalidJSON(t *testing.T) {
	handler, _, router := setupTaskHandler(adminSession())
	router.POST("/tasks", handler.CreateTask)

	w := doJSON(router, http.MethodPost, "/tasks", "invalid json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreateTaskBadAssignee(t *testing.T) {
	handler, svc, router := setupTaskHandler(adminSession())
	router.POST("/tasks", handler.CreateTask)

	w := doJSON(router, http.MethodPost, "/tasks", map[string]any{"title": "x", "assigned_to": "bob"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if field := decode(t, w)["field"]; field != "assigned_to" {
		t.Errorf("Expected field assigned_to, got %v", field)
	}
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateTaskBadDeadline(t *testing.T) {
	handler, _, router := setupTaskHandler(adminSession())
	router.POST("/tasks", handler.CreateTask)

	w := doJSON(router, http.MethodPost, "/tasks", map[string]any{
		"title":       "x",
		"assigned_to": uuid.Must(uuid.NewV4()).String(),
		"deadline":    "next week",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreateTaskForbidden(t *testing.T) {
	s := userSession()
	handler, svc, router := setupTaskHandler(s)
	router.POST("/tasks", handler.CreateTask)

	svc.On("Create", s, mock.Anything).Return(nil, apperrors.ErrForbidden)

	w := doJSON(router, http.MethodPost, "/tasks", map[string]any{
		"title":       "x",
		"assigned_to": uuid.Must(uuid.NewV4()).String(),
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestGetTasks(t *testing.T) {
	handler, svc, router := setupTaskHandler(adminSession())
	router.GET("/tasks", handler.GetTasks)

	svc.On("List").Return([]models.Task{{Title: "a"}, {Title: "b"}}, nil)

	w := doJSON(router, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if total := decode(t, w)["total"]; total != float64(2) {
		t.Errorf("Expected total 2, got %v", total)
	}
}

func TestGetTasksStoreError(t *testing.T) {
	handler, svc, router := setupTaskHandler(adminSession())
	router.GET("/tasks", handler.GetTasks)

	svc.On("List").Return(nil, apperrors.Store("list tasks", errors.New("connection reset")))

	w := doJSON(router, http.MethodGet, "/tasks", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if msg := decode(t, w)["message"]; msg != "failed to list tasks" {
		t.Errorf("Unexpected message %v", msg)
	}
}

func TestGetMyTasks(t *testing.T) {
	s := userSession()
	handler, svc, router := setupTaskHandler(s)
	router.GET("/my-tasks", handler.GetMyTasks)

	svc.On("ListForUser", s.UserID).Return([]models.Task{{Title: "mine", AssignedTo: s.UserID}}, nil)

	w := doJSON(router, http.MethodGet, "/my-tasks", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	svc.AssertExpectations(t)
}

func TestGetMyTasksWithoutSession(t *testing.T) {
	handler, _, router := setupTaskHandler(nil)
	router.GET("/my-tasks", handler.GetMyTasks)

	w := doJSON(router, http.MethodGet, "/my-tasks", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestGetTaskByID(t *testing.T) {
	handler, svc, router := setupTaskHandler(adminSession())
	router.GET("/tasks/:id", handler.GetTaskByID)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("GetByID", mock.Anything, taskID).Return(&models.Task{ID: taskID, Title: "Test Task"}, nil)

	w := doJSON(router, http.MethodGet, "/tasks/"+taskID.String(), nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestGetTaskByIDNotFound(t *testing.T) {
	handler, svc, router := setupTaskHandler(adminSession())
	router.GET("/tasks/:id", handler.GetTaskByID)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("GetByID", mock.Anything, taskID).Return(nil, apperrors.ErrNotFound)

	w := doJSON(router, http.MethodGet, "/tasks/"+taskID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestGetTaskByIDInvalidID(t *testing.T) {
	handler, _, router := setupTaskHandler(adminSession())
	router.GET("/tasks/:id", handler.GetTaskByID)

	w := doJSON(router, http.MethodGet, "/tasks/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUpdateTaskClearsDeadline(t *testing.T) {
	s := adminSession()
	handler, svc, router := setupTaskHandler(s)
	router.PUT("/tasks/:id", handler.UpdateTask)

	taskID := uuid.Must(uuid.NewV4())
	title := "Renamed"
	svc.On("Update", s, taskID, models.TaskPatch{Title: &title, ClearDeadline: true}).
		Return(&models.Task{ID: taskID, Title: title}, nil)

	w := doJSON(router, http.MethodPut, "/tasks/"+taskID.String(), map[string]any{"title": title, "deadline": ""})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	svc.AssertExpectations(t)
}

func TestUpdateTaskValidationError(t *testing.T) {
	s := adminSession()
	handler, svc, router := setupTaskHandler(s)
	router.PUT("/tasks/:id", handler.UpdateTask)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("Update", s, taskID, mock.Anything).
		Return(nil, apperrors.NewValidationError("title", "title is required"))

	w := doJSON(router, http.MethodPut, "/tasks/"+taskID.String(), map[string]any{"title": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	body := decode(t, w)
	if body["error"] != "validation_failed" || body["field"] != "title" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := userSession()
	handler, svc, router := setupTaskHandler(s)
	router.PATCH("/tasks/:id/status", handler.UpdateTaskStatus)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("UpdateStatus", s, taskID, models.StatusCompleted).
		Return(&models.Task{ID: taskID, Status: models.StatusCompleted}, nil)

	w := doJSON(router, http.MethodPatch, "/tasks/"+taskID.String()+"/status", map[string]any{"status": "Completed"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestUpdateTaskStatusNotAssignee(t *testing.T) {
	s := userSession()
	handler, svc, router := setupTaskHandler(s)
	router.PATCH("/tasks/:id/status", handler.UpdateTaskStatus)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("UpdateStatus", s, taskID, models.StatusInProgress).Return(nil, apperrors.ErrForbidden)

	w := doJSON(router, http.MethodPatch, "/tasks/"+taskID.String()+"/status", map[string]any{"status": "In Progress"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	s := adminSession()
	handler, svc, router := setupTaskHandler(s)
	router.DELETE("/tasks/:id", handler.DeleteTask)

	taskID := uuid.Must(uuid.NewV4())
	svc.On("Delete", s, taskID).Return(nil)

	w := doJSON(router, http.MethodDelete, "/tasks/"+taskID.String(), nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
}
