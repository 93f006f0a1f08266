package domain

import (
	"fmt"
	"strings"
	"time"
)

// TokenPurpose tags what an ephemeral token may be redeemed for.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "VERIFY_EMAIL"
	PurposeResetPassword TokenPurpose = "RESET_PASSWORD"
)

func (p TokenPurpose) Valid() bool {
	return p == PurposeVerifyEmail || p == PurposeResetPassword
}

// EphemeralToken is a single-use, time-boxed record keyed by an opaque id.
type EphemeralToken struct {
	Email     string       `json:"email"`
	Purpose   TokenPurpose `json:"purpose"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (t EphemeralToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t EphemeralToken) Validate() error {
	if strings.TrimSpace(t.Email) == "" {
		return fmt.Errorf("%w: token email is required", ErrInvalidInput)
	}
	if !t.Purpose.Valid() {
		return fmt.Errorf("%w: unknown token purpose %q", ErrInvalidInput, t.Purpose)
	}
	if t.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: token expiry is required", ErrInvalidInput)
	}
	return nil
}
