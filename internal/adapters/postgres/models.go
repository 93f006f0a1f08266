package postgres

import (
	"time"

	"github.com/google/uuid"
)

type userModel struct {
	UserID          uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	Email           string     `gorm:"column:email"`
	PasswordHash    *string    `gorm:"column:password_hash"`
	FirstName       string     `gorm:"column:first_name"`
	LastName        string     `gorm:"column:last_name"`
	AvatarURL       string     `gorm:"column:avatar_url"`
	Role            string     `gorm:"column:role"`
	Status          string     `gorm:"column:status"`
	IsActive        bool       `gorm:"column:is_active"`
	EmailVerified   bool       `gorm:"column:email_verified"`
	OAuthProvider   *string    `gorm:"column:oauth_provider"`
	ProviderSubject *string    `gorm:"column:provider_subject"`
	LoginCount      int        `gorm:"column:login_count"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	LastActiveAt    *time.Time `gorm:"column:last_active_at"`
	LastLoginAt     *time.Time `gorm:"column:last_login_at"`
}

func (userModel) TableName() string { return "users" }
