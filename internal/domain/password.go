package domain

import (
	"fmt"
	"unicode/utf8"
)

const (
	DefaultMinPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes.
	MaxPasswordBytes = 72
)

// ValidatePassword enforces the minimum character count and bcrypt's byte cap.
func ValidatePassword(password string, minLength int) error {
	if minLength <= 0 {
		minLength = DefaultMinPasswordLength
	}
	if !utf8.ValidString(password) {
		return fmt.Errorf("%w: password must be valid UTF-8", ErrInvalidInput)
	}
	if utf8.RuneCountInString(password) < minLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}
	return nil
}
