package services

import (
	"context"
	"errors"
	"net/url"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/identity"
	"taskflow/backend/internal/models"
	"taskflow/backend/internal/notify"
	"taskflow/backend/internal/repositories"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

const defaultUserName = "User"

// SessionInfo is what a client needs to compose its screens.
type SessionInfo struct {
	UserID       uuid.UUID   `json:"user_id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	Role         models.Role `json:"role"`
	Tabs         []string    `json:"tabs"`
	Capabilities []string    `json:"capabilities"`
}

type SignInResult struct {
	User    *models.User        `json:"user"`
	Session SessionInfo         `json:"session"`
	Tokens  *identity.TokenPair `json:"tokens"`
}

type ResetRequest struct {
	Code            string
	Password        string
	ConfirmPassword string
}

type SessionService interface {
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
	SignUp(ctx context.Context, req SignupRequest) (*SignInResult, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.TokenPair, error)
	SignOut(ctx context.Context, session *authz.Session, refreshToken string) error
	ForgotPassword(ctx context.Context, email string) (*notify.Receipt, error)
	VerifyResetCode(ctx context.Context, code string) (string, error)
	ResetPassword(ctx context.Context, req ResetRequest) error
	Profile(ctx context.Context, session *authz.Session) (*models.User, error)
	UpdateProfile(ctx context.Context, session *authz.Session, name, email *string) (*models.User, error)
}

// SessionServiceImpl resolves the role once at sign-in and bakes it into
// the tokens. Later requests never re-read the directory for it.
type SessionServiceImpl struct {
	users    UserService
	store    repositories.UserStore
	provider identity.Provider
	tokens   *identity.TokenIssuer
	notifier notify.Notifier
	resetURL string
	logger   *logrus.Logger
	now      func() time.Time
}

func NewSessionService(users UserService, store repositories.UserStore, provider identity.Provider, tokens *identity.TokenIssuer, notifier notify.Notifier, resetURL string, logger *logrus.Logger) *SessionServiceImpl {
	return &SessionServiceImpl{
		users:    users,
		store:    store,
		provider: provider,
		tokens:   tokens,
		notifier: notifier,
		resetURL: resetURL,
		logger:   logger,
		now:      time.Now,
	}
}

func Describe(user *models.User) SessionInfo {
	view := authz.ViewFor(user.Role)
	return SessionInfo{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Role:         view.Role(),
		Tabs:         view.Tabs(),
		Capabilities: view.Capabilities().List(),
	}
}

// DescribeSession is Describe for an already established session.
func DescribeSession(s *authz.Session) SessionInfo {
	return SessionInfo{
		UserID:       s.UserID,
		Email:        s.Email,
		Name:         s.Name,
		Role:         s.Role(),
		Tabs:         s.View.Tabs(),
		Capabilities: s.View.Capabilities().List(),
	}
}

// SignIn authenticates and resolves the directory user. A first sign-in
// without a directory record creates one with role user.
func (s *SessionServiceImpl) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	account, err := s.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, account.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		user, err = s.synthesize(ctx, account)
	}
	if err != nil {
		return nil, err
	}
	return s.open(ctx, user)
}

func (s *SessionServiceImpl) SignUp(ctx context.Context, req SignupRequest) (*SignInResult, error) {
	user, err := s.users.RegisterSelf(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, user)
}

func (s *SessionServiceImpl) synthesize(ctx context.Context, account *models.Account) (*models.User, error) {
	name := account.DisplayName
	if name == "" {
		name = defaultUserName
	}
	now := s.now().UTC()
	user := &models.User{
		ID:        account.ID,
		Name:      name,
		Email:     account.Email,
		Role:      models.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("created directory record on first sign-in")
	return user, nil
}

func (s *SessionServiceImpl) open(ctx context.Context, user *models.User) (*SignInResult, error) {
	pair, err := s.tokens.Issue(ctx, identity.Snapshot{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	})
	if err != nil {
		return nil, err
	}
	return &SignInResult{User: user, Session: Describe(user), Tokens: pair}, nil
}

func (s *SessionServiceImpl) Refresh(ctx context.Context, refreshToken string) (*identity.TokenPair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

func (s *SessionServiceImpl) SignOut(ctx context.Context, session *authz.Session, refreshToken string) error {
	if session == nil {
		return apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}
	if err := s.tokens.Revoke(ctx, refreshToken, session.Claims); err != nil {
		return err
	}
	s.logger.WithField("user_id", session.UserID).Info("signed out")
	return nil
}

// ForgotPassword issues a reset code and sends the link. Unlike assignment
// notices, a failed send is returned to the caller.
func (s *SessionServiceImpl) ForgotPassword(ctx context.Context, email string) (*notify.Receipt, error) {
	reset, err := s.provider.SendPasswordReset(ctx, email)
	if err != nil {
		return nil, err
	}
	account, err := s.provider.GetAccount(ctx, reset.AccountID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.notifier.NotifyPasswordReset(ctx, notify.PasswordReset{
		RecipientEmail: account.Email,
		Link:           s.resetLink(reset.Code),
		ExpiresAt:      reset.ExpiresAt,
	})
	if err != nil {
		nerr := &apperrors.NotificationError{Err: err}
		s.logger.WithError(nerr).WithField("account_id", account.ID).Error("password reset email not sent")
		return nil, nerr
	}
	return receipt, nil
}

func (s *SessionServiceImpl) resetLink(code string) string {
	return s.resetURL + "?" + url.Values{"oobCode": {code}}.Encode()
}

func (s *SessionServiceImpl) VerifyResetCode(ctx context.Context, code string) (string, error) {
	return s.provider.VerifyPasswordReset(ctx, code)
}

func (s *SessionServiceImpl) ResetPassword(ctx context.Context, req ResetRequest) error {
	if req.Password != req.ConfirmPassword {
		return apperrors.NewValidationError("confirm_password", "Passwords do not match")
	}
	if err := s.provider.ConfirmPasswordReset(ctx, req.Code, req.Password); err != nil {
		return providerValidation(err)
	}
	return nil
}

func (s *SessionServiceImpl) Profile(ctx context.Context, session *authz.Session) (*models.User, error) {
	if err := session.Require(authz.ProfileRead); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, session.UserID)
}

// UpdateProfile edits the caller's own name and email. The session snapshot
// keeps the old values until the next sign-in.
func (s *SessionServiceImpl) UpdateProfile(ctx context.Context, session *authz.Session, name, email *string) (*models.User, error) {
	if session == nil {
		return nil, apperrors.ErrForbidden
	}
	return s.users.Update(ctx, session, session.UserID, models.UserPatch{Name: name, Email: email})
}
