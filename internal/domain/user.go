package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderGoogle is the only external identity provider wired today.
const ProviderGoogle = "google"

// User is the identity record owned by the user store.
type User struct {
	UserID        uuid.UUID
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	AvatarURL     string
	Role          Role
	Status        Status
	IsActive      bool
	EmailVerified bool
	// OAuthProvider and ProviderSubject are set together or not at all.
	OAuthProvider   string
	ProviderSubject string
	LoginCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActiveAt    *time.Time
	LastLoginAt     *time.Time
}

// CanAuthenticate is false for deactivated or suspended accounts even when the
// active flag was left set.
func (u User) CanAuthenticate() bool {
	return u.IsActive && u.Status != StatusDeactivated && u.Status != StatusSuspended
}

func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

func (u User) HasProvider() bool {
	return u.OAuthProvider != "" && u.ProviderSubject != ""
}

// Validate checks the record-level invariants stores enforce on write.
func (u User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: invalid role %q", ErrInvalidInput, u.Role)
	}
	if (u.OAuthProvider == "") != (u.ProviderSubject == "") {
		return fmt.Errorf("%w: provider and provider subject must be set together", ErrInvalidInput)
	}
	if !u.HasPassword() && !u.HasProvider() {
		return fmt.Errorf("%w: account without password requires a provider identity", ErrInvalidInput)
	}
	return nil
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
