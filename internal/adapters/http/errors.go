package http

import (
	"errors"
	"net/http"

	"github.com/akibul079/demo-sop-hub/internal/domain"
)

// mapDomainError is the single place where error kinds become transport
// status codes. Messages are fixed strings except for validation failures.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"
	case errors.Is(err, domain.ErrInactiveAccount):
		return http.StatusForbidden, "INACTIVE_ACCOUNT", "account is inactive"
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "user not found"
	case errors.Is(err, domain.ErrWeakPassword):
		return http.StatusBadRequest, "WEAK_PASSWORD", "password does not meet the minimum length"
	case errors.Is(err, domain.ErrPasswordMismatch):
		return http.StatusBadRequest, "PASSWORD_MISMATCH", "new password and confirmation do not match"
	case errors.Is(err, domain.ErrNoPasswordChange):
		return http.StatusBadRequest, "NO_PASSWORD_CHANGE", "new password must be different from the current password"
	case errors.Is(err, domain.ErrOAuthOnlyAccount):
		return http.StatusBadRequest, "OAUTH_ONLY_ACCOUNT", "this account signs in with Google and has no password"
	case errors.Is(err, domain.ErrInvalidAssertion):
		return http.StatusUnauthorized, "INVALID_ASSERTION", "identity provider token could not be verified"
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusBadRequest, "TOKEN_NOT_FOUND", "invalid or already used token"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusBadRequest, "TOKEN_EXPIRED", "token has expired, request a new one"
	case errors.Is(err, domain.ErrEmailMismatch):
		return http.StatusBadRequest, "EMAIL_MISMATCH", "token does not match this email"
	case errors.Is(err, domain.ErrWrongTokenPurpose):
		return http.StatusBadRequest, "WRONG_TOKEN_PURPOSE", "token cannot be used for this action"
	case errors.Is(err, domain.ErrAlreadyVerified):
		return http.StatusBadRequest, "ALREADY_VERIFIED", "email is already verified"
	case errors.Is(err, domain.ErrDispatchFailed):
		return http.StatusServiceUnavailable, "DISPATCH_FAILED", "could not send email, please try again"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", "an account with this email already exists"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
