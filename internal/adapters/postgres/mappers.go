package postgres

import (
	"errors"
	"strings"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"gorm.io/gorm"
)

func toDomainUser(row userModel) domain.User {
	return domain.User{
		UserID:          row.UserID,
		Email:           row.Email,
		PasswordHash:    derefString(row.PasswordHash),
		FirstName:       row.FirstName,
		LastName:        row.LastName,
		AvatarURL:       row.AvatarURL,
		Role:            domain.Role(row.Role),
		Status:          domain.Status(row.Status),
		IsActive:        row.IsActive,
		EmailVerified:   row.EmailVerified,
		OAuthProvider:   derefString(row.OAuthProvider),
		ProviderSubject: derefString(row.ProviderSubject),
		LoginCount:      row.LoginCount,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		LastActiveAt:    row.LastActiveAt,
		LastLoginAt:     row.LastLoginAt,
	}
}

func toUserModel(u domain.User) userModel {
	return userModel{
		UserID:          u.UserID,
		Email:           strings.ToLower(strings.TrimSpace(u.Email)),
		PasswordHash:    nullableString(u.PasswordHash),
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		AvatarURL:       u.AvatarURL,
		Role:            string(u.Role),
		Status:          string(u.Status),
		IsActive:        u.IsActive,
		EmailVerified:   u.EmailVerified,
		OAuthProvider:   nullableString(u.OAuthProvider),
		ProviderSubject: nullableString(u.ProviderSubject),
		LoginCount:      u.LoginCount,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		LastActiveAt:    u.LastActiveAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

func nullableString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
