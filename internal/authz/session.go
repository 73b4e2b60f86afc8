package authz

import (
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/identity"
	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
)

// Session is the authenticated caller of one request. It is built from the
// access token and never re-reads the directory.
type Session struct {
	UserID   uuid.UUID
	Email    string
	Name     string
	View     View
	TokenID  string
	IssuedAt time.Time
	Claims   *identity.SessionClaims
}

func NewSession(claims *identity.SessionClaims) (*Session, error) {
	snap, err := claims.Snapshot()
	if err != nil {
		return nil, err
	}
	s := &Session{
		UserID:  snap.UserID,
		Email:   snap.Email,
		Name:    snap.Name,
		View:    ViewFor(snap.Role),
		TokenID: claims.ID,
		Claims:  claims,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	return s, nil
}

func (s *Session) Role() models.Role {
	return s.View.Role()
}

func (s *Session) Can(c Capability) bool {
	return s != nil && s.View.Capabilities().Has(c)
}

// Require returns apperrors.ErrForbidden when the session lacks c.
func (s *Session) Require(c Capability) error {
	if !s.Can(c) {
		return apperrors.ErrForbidden
	}
	return nil
}

// DisplayName is the name, else the email.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Email
}

// CanUpdateTaskStatus: admins may update any task, users only their own.
func CanUpdateTaskStatus(s *Session, task *models.Task) bool {
	if !s.Can(TasksUpdateStatus) {
		return false
	}
	if _, ok := s.View.(AdminView); ok {
		return true
	}
	return task.AssignedTo == s.UserID
}

// CanViewTask: readers of all tasks see everything, others only their own.
func CanViewTask(s *Session, task *models.Task) bool {
	if s.Can(TasksReadAll) {
		return true
	}
	return s.Can(TasksReadAssigned) && task.AssignedTo == s.UserID
}
