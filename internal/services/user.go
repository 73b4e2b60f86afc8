package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/identity"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
}

type SignupRequest struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

type UserService interface {
	Create(ctx context.Context, actor *authz.Session, req NewUser) (*models.User, error)
	RegisterSelf(ctx context.Context, req SignupRequest) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ListByRole(ctx context.Context, role models.Role) ([]models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Update(ctx context.Context, actor *authz.Session, id uuid.UUID, patch models.UserPatch) (*models.User, error)
	Delete(ctx context.Context, actor *authz.Session, id uuid.UUID) error
	EnsureAdmin(ctx context.Context, name, email, password string) (*models.User, error)
}

// UserServiceImpl keeps the identity accounts and the directory records in
// step. The account is written first and its id becomes the user id.
type UserServiceImpl struct {
	store          repositories.UserStore
	provider       identity.Provider
	minPasswordLen int
	logger         *logrus.Logger
	now            func() time.Time
}

func NewUserService(store repositories.UserStore, provider identity.Provider, minPasswordLen int, logger *logrus.Logger) *UserServiceImpl {
	if minPasswordLen < 6 {
		minPasswordLen = 6
	}
	return &UserServiceImpl{
		store:          store,
		provider:       provider,
		minPasswordLen: minPasswordLen,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *UserServiceImpl) Create(ctx context.Context, actor *authz.Session, req NewUser) (*models.User, error) {
	if err := actor.Require(authz.UsersManage); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !req.Role.Valid() {
		return nil, apperrors.NewValidationError("role", "role must be admin or user")
	}
	return s.create(ctx, req)
}

// RegisterSelf is the public signup. The role is always user.
func (s *UserServiceImpl) RegisterSelf(ctx context.Context, req SignupRequest) (*models.User, error) {
	if req.Password != req.ConfirmPassword {
		return nil, apperrors.NewValidationError("confirm_password", "Passwords do not match")
	}
	return s.create(ctx, NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     models.RoleUser,
	})
}

// EnsureAdmin creates the first administrator unless an account with that
// email is already in the directory.
func (s *UserServiceImpl) EnsureAdmin(ctx context.Context, name, email, password string) (*models.User, error) {
	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.create(ctx, NewUser{Name: name, Email: email, Password: password, Role: models.RoleAdmin})
}

func (s *UserServiceImpl) create(ctx context.Context, req NewUser) (*models.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name", "name is required")
	}
	if len(req.Password) < s.minPasswordLen {
		return nil, &apperrors.ValidationError{
			Field:   "password",
			Code:    apperrors.CodeWeakPassword,
			Message: apperrors.Reason(apperrors.CodeWeakPassword),
		}
	}

	account, err := s.provider.CreateAccount(ctx, req.Email, req.Password, name)
	if err != nil {
		return nil, providerValidation(err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:        account.ID,
		Name:      name,
		Email:     account.Email,
		Role:      req.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if derr := s.provider.DeleteAccount(ctx, account.ID); derr != nil {
			s.logger.WithError(derr).WithField("account_id", account.ID).Error("failed to roll back identity account")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user created")
	return user, nil
}

func (s *UserServiceImpl) List(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *UserServiceImpl) ListByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("role", "role must be admin or user")
	}
	return s.store.ListUsersByRole(ctx, role)
}

func (s *UserServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// Update edits a directory record. Administrators may edit anyone; every
// session may edit its own name and email but never its own role.
func (s *UserServiceImpl) Update(ctx context.Context, actor *authz.Session, id uuid.UUID, patch models.UserPatch) (*models.User, error) {
	self := actor != nil && actor.UserID == id
	required := authz.UsersManage
	if self {
		required = authz.ProfileUpdate
	}
	if err := actor.Require(required); err != nil {
		return nil, err
	}

	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name", "name is required")
		}
		patch.Name = &name
	}
	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		patch.Email = &email
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, apperrors.NewValidationError("role", "role must be admin or user")
		}
		if *patch.Role != current.Role {
			if self {
				return nil, apperrors.ErrSelfModification
			}
			if err := actor.Require(authz.UsersManage); err != nil {
				return nil, err
			}
		}
	}
	if patch.Empty() {
		return current, nil
	}

	var email, name *string
	if patch.Email != nil && *patch.Email != current.Email {
		email = patch.Email
	}
	if patch.Name != nil && *patch.Name != current.Name {
		name = patch.Name
	}
	var previous *models.Account
	if email != nil || name != nil {
		account, err := s.provider.GetAccount(ctx, id)
		switch {
		case err == nil:
			if err := s.provider.UpdateAccount(ctx, id, email, name); err != nil {
				return nil, providerValidation(err)
			}
			previous = account
		case isUserNotFound(err):
			s.logger.WithField("user_id", id).Warn("directory user has no identity account")
		default:
			return nil, err
		}
	}

	updated, err := s.store.UpdateUser(ctx, id, patch, s.now().UTC())
	if err != nil {
		if previous != nil {
			s.restoreAccount(ctx, previous, email != nil, name != nil)
		}
		return nil, err
	}
	return updated, nil
}

// restoreAccount puts back the account fields an update changed before the
// directory write failed.
func (s *UserServiceImpl) restoreAccount(ctx context.Context, previous *models.Account, emailChanged, nameChanged bool) {
	var email, name *string
	if emailChanged {
		email = &previous.Email
	}
	if nameChanged {
		name = &previous.DisplayName
	}
	if err := s.provider.UpdateAccount(context.WithoutCancel(ctx), previous.ID, email, name); err != nil {
		s.logger.WithError(err).WithField("account_id", previous.ID).Error("failed to restore identity account")
	}
}

func isUserNotFound(err error) bool {
	code, ok := apperrors.AuthCode(err)
	return ok && code == apperrors.CodeUserNotFound
}

// Delete removes the directory record and then the identity account.
// An administrator cannot delete their own record.
func (s *UserServiceImpl) Delete(ctx context.Context, actor *authz.Session, id uuid.UUID) error {
	if err := actor.Require(authz.UsersManage); err != nil {
		return err
	}
	if actor.UserID == id {
		return apperrors.ErrSelfModification
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}

	if err := s.provider.DeleteAccount(ctx, id); err != nil {
		if !isUserNotFound(err) {
			s.logger.WithError(err).WithField("user_id", id).Warn("failed to delete identity account")
		}
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	return nil
}

// providerValidation turns provider rejections of user input into
// validation errors that keep the provider code.
func providerValidation(err error) error {
	var ae *apperrors.AuthError
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Code {
	case apperrors.CodeEmailAlreadyInUse, apperrors.CodeInvalidEmail:
		return &apperrors.ValidationError{Field: "email", Code: ae.Code, Message: apperrors.Reason(ae.Code)}
	case apperrors.CodeWeakPassword:
		return &apperrors.ValidationError{Field: "password", Code: ae.Code, Message: apperrors.Reason(ae.Code)}
	}
	return err
}
