package domain

import "errors"

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict signals a unique-constraint violation (email or provider subject).
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials hides whether the email, the missing password or the
	// password itself failed, so login cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	// ErrUnauthorized covers every session token rejection. The precise codec
	// reason is logged, never returned.
	ErrUnauthorized = errors.New("unauthorized")
	ErrUserNotFound = errors.New("user not found")

	// Session codec rejection reasons. Callers see only ErrUnauthorized.
	ErrSessionTokenMalformed    = errors.New("session token malformed")
	ErrSessionTokenBadSignature = errors.New("session token signature mismatch")
	ErrSessionExpired           = errors.New("session token expired")

	ErrWeakPassword     = errors.New("password does not meet minimum length")
	ErrPasswordMismatch = errors.New("new password and confirmation do not match")
	ErrNoPasswordChange = errors.New("new password must differ from the current password")
	ErrOAuthOnlyAccount = errors.New("account has no password; sign in with the identity provider")

	ErrInvalidAssertion = errors.New("invalid identity assertion")

	ErrTokenNotFound     = errors.New("token not found")
	ErrTokenExpired      = errors.New("token expired")
	ErrEmailMismatch     = errors.New("token does not belong to this email")
	ErrWrongTokenPurpose = errors.New("token was issued for a different purpose")

	ErrAlreadyVerified = errors.New("email already verified")
	// ErrDispatchFailed is surfaced only where the user is expected to retry.
	ErrDispatchFailed = errors.New("email dispatch failed")
)
