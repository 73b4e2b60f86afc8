package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Account is the identity provider's credential record.
type Account struct {
	ID           uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	return ensureID(&a.ID)
}

// RefreshToken keeps the session snapshot taken at sign-in so a refresh
// never re-reads the role.
type RefreshToken struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	Token     uuid.UUID `json:"-" gorm:"type:uuid;uniqueIndex;not null"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role" gorm:"type:varchar(16);not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	return ensureID(&t.ID)
}

type PasswordReset struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID uuid.UUID  `json:"account_id" gorm:"type:uuid;not null;index"`
	Code      string     `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (p *PasswordReset) BeforeCreate(tx *gorm.DB) error {
	return ensureID(&p.ID)
}

type AuditLog struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Role          Role      `json:"role" gorm:"type:varchar(16)"`
	Capability    string    `json:"capability" gorm:"not null"`
	ResourceID    string    `json:"resource_id"`
	Decision      string    `json:"decision" gorm:"not null"`
	Reason        string    `json:"reason"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	RequestMethod string    `json:"request_method"`
	RequestPath   string    `json:"request_path"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	return ensureID(&a.ID)
}

func ensureID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v, err := uuid.NewV4()
	if err != nil {
		return err
	}
	*id = v
	return nil
}
