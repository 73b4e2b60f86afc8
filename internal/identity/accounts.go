package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/config"
	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Provider authenticates credentials and owns accounts. Every rejection is
// an *apperrors.AuthError carrying a provider code.
type Provider interface {
	CreateAccount(ctx context.Context, email, password, displayName string) (*models.Account, error)
	Authenticate(ctx context.Context, email, password string) (*models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, email, displayName *string) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	SendPasswordReset(ctx context.Context, email string) (*models.PasswordReset, error)
	VerifyPasswordReset(ctx context.Context, code string) (string, error)
	ConfirmPasswordReset(ctx context.Context, code, newPassword string) error
}

// AccountStore is the gorm-backed Provider.
type AccountStore struct {
	db       *gorm.DB
	cost     int
	minLen   int
	resetTTL time.Duration
	throttle *LoginThrottle
	now      func() time.Time
}

func NewAccountStore(db *gorm.DB, cfg config.AuthConfig, throttle *LoginThrottle) *AccountStore {
	cost := cfg.BCryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	minLen := cfg.MinPasswordLen
	if minLen < 6 {
		minLen = 6
	}
	return &AccountStore{
		db:       db,
		cost:     cost,
		minLen:   minLen,
		resetTTL: cfg.PasswordResetTTL,
		throttle: throttle,
		now:      time.Now,
	}
}

func (s *AccountStore) CreateAccount(ctx context.Context, email, password, displayName string) (*models.Account, error) {
	email, err := validEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < s.minLen {
		return nil, apperrors.NewAuthError(apperrors.CodeWeakPassword)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &models.Account{
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.NewAuthError(apperrors.CodeEmailAlreadyInUse)
		}
		return nil, unavailable(err)
	}
	return account, nil
}

func (s *AccountStore) Authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	email, err := validEmail(email)
	if err != nil {
		return nil, err
	}

	if s.throttle != nil {
		blocked, err := s.throttle.Blocked(ctx, email)
		if err != nil {
			return nil, apperrors.NewAuthError(apperrors.CodeNetworkRequestFailed)
		}
		if blocked {
			return nil, apperrors.NewAuthError(apperrors.CodeTooManyRequests)
		}
	}

	var account models.Account
	err = s.db.WithContext(ctx).First(&account, "email = ?", email).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unavailable(err)
	}

	if err != nil || bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		if s.throttle != nil {
			_ = s.throttle.Fail(ctx, email)
		}
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidCredential)
	}

	if s.throttle != nil {
		_ = s.throttle.Reset(ctx, email)
	}
	return &account, nil
}

func (s *AccountStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAuthError(apperrors.CodeUserNotFound)
		}
		return nil, unavailable(err)
	}
	return &account, nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, id uuid.UUID, email, displayName *string) error {
	updates := map[string]interface{}{"updated_at": s.now().UTC()}
	if email != nil {
		normalized, err := validEmail(*email)
		if err != nil {
			return err
		}
		updates["email"] = normalized
	}
	if displayName != nil {
		updates["display_name"] = strings.TrimSpace(*displayName)
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return apperrors.NewAuthError(apperrors.CodeEmailAlreadyInUse)
		}
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewAuthError(apperrors.CodeUserNotFound)
	}
	return nil
}

// DeleteAccount removes the account together with its refresh tokens and
// reset codes.
func (s *AccountStore) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return unavailable(err)
		}
		if err := tx.Where("account_id = ?", id).Delete(&models.PasswordReset{}).Error; err != nil {
			return unavailable(err)
		}
		res := tx.Delete(&models.Account{}, "id = ?", id)
		if res.Error != nil {
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewAuthError(apperrors.CodeUserNotFound)
		}
		return nil
	})
}

func (s *AccountStore) SendPasswordReset(ctx context.Context, email string) (*models.PasswordReset, error) {
	email, err := validEmail(email)
	if err != nil {
		return nil, err
	}

	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAuthError(apperrors.CodeUserNotFound)
		}
		return nil, unavailable(err)
	}

	code, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	reset := &models.PasswordReset{
		AccountID: account.ID,
		Code:      code.String(),
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(reset).Error; err != nil {
		return nil, unavailable(err)
	}
	return reset, nil
}

// VerifyPasswordReset returns the email the code was issued for.
func (s *AccountStore) VerifyPasswordReset(ctx context.Context, code string) (string, error) {
	reset, err := s.usableReset(s.db.WithContext(ctx), code)
	if err != nil {
		return "", err
	}
	account, err := s.GetAccount(ctx, reset.AccountID)
	if err != nil {
		return "", err
	}
	return account.Email, nil
}

// ConfirmPasswordReset sets the new password, burns the code and ends every
// open session of the account.
func (s *AccountStore) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if len(newPassword) < s.minLen {
		return apperrors.NewAuthError(apperrors.CodeWeakPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reset, err := s.usableReset(tx, code)
		if err != nil {
			return err
		}
		now := s.now().UTC()

		res := tx.Model(&models.Account{}).Where("id = ?", reset.AccountID).
			Updates(map[string]interface{}{"password_hash": string(hash), "updated_at": now})
		if res.Error != nil {
			return unavailable(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewAuthError(apperrors.CodeUserNotFound)
		}
		if err := tx.Model(reset).Update("used_at", now).Error; err != nil {
			return unavailable(err)
		}
		if err := tx.Where("account_id = ?", reset.AccountID).Delete(&models.RefreshToken{}).Error; err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *AccountStore) usableReset(db *gorm.DB, code string) (*models.PasswordReset, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidActionCode)
	}
	var reset models.PasswordReset
	if err := db.First(&reset, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewAuthError(apperrors.CodeInvalidActionCode)
		}
		return nil, unavailable(err)
	}
	if reset.UsedAt != nil {
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidActionCode)
	}
	if !s.now().Before(reset.ExpiresAt) {
		return nil, apperrors.NewAuthError(apperrors.CodeExpiredActionCode)
	}
	return &reset, nil
}

func validEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.NewAuthError(apperrors.CodeInvalidEmail)
	}
	return email, nil
}

func unavailable(err error) error {
	return &apperrors.AuthError{Code: apperrors.CodeNetworkRequestFailed, Message: err.Error()}
}
