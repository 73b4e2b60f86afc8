package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/config"
	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// Snapshot is what a session remembers about its user. It is taken once at
// sign-in and copied forward on every refresh.
type Snapshot struct {
	UserID uuid.UUID
	Email  string
	Name   string
	Role   models.Role
}

type SessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *SessionClaims) Snapshot() (Snapshot, error) {
	id, err := uuid.FromString(c.UserID)
	if err != nil {
		return Snapshot{}, apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return Snapshot{}, apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}
	return Snapshot{UserID: id, Email: c.Email, Name: c.Name, Role: role}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type TokenIssuer struct {
	db          *gorm.DB
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	revocations *RevocationList
	now         func() time.Time
}

// NewTokenIssuer signs HS256 access tokens and persists refresh tokens in db.
// revocations may be nil, in which case logout only drops the refresh token.
func NewTokenIssuer(db *gorm.DB, cfg config.AuthConfig, revocations *RevocationList) *TokenIssuer {
	return &TokenIssuer{
		db:          db,
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.Issuer,
		accessTTL:   cfg.AccessTokenTTL,
		refreshTTL:  cfg.RefreshTokenTTL,
		revocations: revocations,
		now:         time.Now,
	}
}

func (t *TokenIssuer) Issue(ctx context.Context, snap Snapshot) (*TokenPair, error) {
	return t.issue(t.db.WithContext(ctx), snap)
}

func (t *TokenIssuer) issue(db *gorm.DB, snap Snapshot) (*TokenPair, error) {
	now := t.now()
	jti, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	claims := SessionClaims{
		UserID: snap.UserID.String(),
		Email:  snap.Email,
		Name:   snap.Name,
		Role:   string(snap.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    t.issuer,
			Subject:   snap.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	record := &models.RefreshToken{
		AccountID: snap.UserID,
		Token:     refresh,
		Email:     snap.Email,
		Name:      snap.Name,
		Role:      snap.Role,
		ExpiresAt: now.Add(t.refreshTTL).UTC(),
		CreatedAt: now.UTC(),
	}
	if err := db.Create(record).Error; err != nil {
		return nil, unavailable(err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.String(),
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.accessTTL.Seconds()),
	}, nil
}

// Parse verifies signature, issuer and expiry, then checks the revocation list.
func (t *TokenIssuer) Parse(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.NewAuthError(apperrors.CodeSessionRevoked)
		}
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}

	if t.revocations != nil {
		revoked, err := t.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, &apperrors.AuthError{Code: apperrors.CodeNetworkRequestFailed, Message: err.Error()}
		}
		if revoked {
			return nil, apperrors.NewAuthError(apperrors.CodeSessionRevoked)
		}
	}
	return claims, nil
}

// Refresh rotates a refresh token. The new pair carries the snapshot stored
// with the old token, so a role change made elsewhere is not picked up.
func (t *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	id, err := uuid.FromString(refreshToken)
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}

	var pair *TokenPair
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.RefreshToken
		if err := tx.First(&record, "token = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewAuthError(apperrors.CodeInvalidToken)
			}
			return unavailable(err)
		}
		if err := consume(tx, &record); err != nil {
			return err
		}
		if !t.now().Before(record.ExpiresAt) {
			return apperrors.NewAuthError(apperrors.CodeSessionRevoked)
		}

		issued, err := t.issue(tx, Snapshot{
			UserID: record.AccountID,
			Email:  record.Email,
			Name:   record.Name,
			Role:   record.Role,
		})
		if err != nil {
			return err
		}
		pair = issued
		return nil
	})
	if err != nil {
		var ae *apperrors.AuthError
		if errors.As(err, &ae) && ae.Code == apperrors.CodeSessionRevoked {
			_ = t.db.WithContext(ctx).Where("token = ?", id).Delete(&models.RefreshToken{}).Error
		}
		return nil, err
	}
	return pair, nil
}

// consume deletes a refresh token that was read earlier in the transaction.
// Only one caller can consume a token; a concurrent refresh that read the
// same row finds nothing left to delete.
func consume(tx *gorm.DB, record *models.RefreshToken) error {
	res := tx.Where("token = ?", record.Token).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NewAuthError(apperrors.CodeInvalidToken)
	}
	return nil
}

// Revoke ends a session: the refresh token is deleted and the access token
// id is kept on the revocation list until it would have expired.
func (t *TokenIssuer) Revoke(ctx context.Context, refreshToken string, claims *SessionClaims) error {
	if refreshToken != "" {
		if id, err := uuid.FromString(refreshToken); err == nil {
			if err := t.db.WithContext(ctx).Where("token = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
				return unavailable(err)
			}
		}
	}

	if claims == nil || t.revocations == nil || claims.ExpiresAt == nil {
		return nil
	}
	return t.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(t.now()))
}

// PurgeExpired deletes refresh tokens and reset codes past their expiry.
func (t *TokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	now := t.now().UTC()
	res := t.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, res.Error
	}
	n := res.RowsAffected
	res = t.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.PasswordReset{})
	if res.Error != nil {
		return n, res.Error
	}
	return n + res.RowsAffected, nil
}
