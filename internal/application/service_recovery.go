package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/ports"
)

const ephemeralTokenLength = 32

// RequestVerification issues a fresh verification token and emails it. A
// failed dispatch is returned so the user knows to retry.
func (s *Service) RequestVerification(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("load user by email: %w", err)
	}
	if user.EmailVerified {
		return domain.ErrAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

// RequestPasswordReset always succeeds for unknown emails so the endpoint
// cannot be used to enumerate accounts. Dispatch is best-effort.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			appLogger().InfoContext(ctx, "password reset requested for unknown email",
				"operation", "request_password_reset",
				"outcome", "skipped",
			)
			return nil
		}
		return fmt.Errorf("load user by email: %w", err)
	}

	tokenID, err := s.issueEphemeralToken(ctx, user.Email, domain.PurposeResetPassword, s.cfg.ResetTTL)
	if err != nil {
		return err
	}
	err = s.mailer.Send(ctx, ports.EmailMessage{
		TemplateKey: ports.TemplateResetPassword,
		Recipient:   user.Email,
		Params: map[string]string{
			"first_name": firstNonEmpty(user.FirstName, user.DisplayName()),
			"link":       s.buildLink("/auth/reset-password", user.Email, tokenID),
			"expires_in": s.cfg.ResetTTL.String(),
		},
	})
	if err != nil {
		appLogger().WarnContext(ctx, "password reset email dispatch failed",
			"operation", "request_password_reset",
			"outcome", "dispatch_failed",
			"user_id", user.UserID.String(),
			"error", err,
		)
	}
	return nil
}

// VerifyEmail redeems a verification token: it marks the address verified and
// activates a pending account. The welcome email is best-effort.
func (s *Service) VerifyEmail(ctx context.Context, email, tokenID string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return domain.ErrTokenNotFound
	}

	var verified domain.User
	err = s.tokens.Consume(ctx, tokenID, s.nowFn(), func(tok domain.EphemeralToken) error {
		if err := checkTokenFor(tok, normalized, domain.PurposeVerifyEmail); err != nil {
			return err
		}
		user, err := s.users.GetByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("load user by email: %w", err)
		}
		now := s.nowFn()
		verified, err = s.users.Update(ctx, user.UserID, func(u *domain.User) error {
			u.EmailVerified = true
			if u.Status == domain.StatusPending {
				u.Status = domain.StatusActive
			}
			u.UpdatedAt = now
			return nil
		})
		return err
	})
	if err != nil {
		s.recordTokenFailure(domain.PurposeVerifyEmail, err)
		return err
	}
	s.metrics.EphemeralToken(string(domain.PurposeVerifyEmail), "consumed")

	err = s.mailer.Send(ctx, ports.EmailMessage{
		TemplateKey: ports.TemplateWelcome,
		Recipient:   verified.Email,
		Params: map[string]string{
			"first_name": firstNonEmpty(verified.FirstName, verified.DisplayName()),
			"link":       strings.TrimRight(s.cfg.FrontendURL, "/") + "/",
		},
	})
	if err != nil {
		appLogger().WarnContext(ctx, "welcome email dispatch failed",
			"operation", "verify_email",
			"outcome", "dispatch_failed",
			"user_id", verified.UserID.String(),
			"error", err,
		)
	}
	return nil
}

// ResetPassword redeems a reset token. Any rejection before the hash is
// replaced leaves the token usable.
func (s *Service) ResetPassword(ctx context.Context, email, tokenID, newPassword string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return domain.ErrTokenNotFound
	}

	var userID string
	err = s.tokens.Consume(ctx, tokenID, s.nowFn(), func(tok domain.EphemeralToken) error {
		if err := checkTokenFor(tok, normalized, domain.PurposeResetPassword); err != nil {
			return err
		}
		if err := domain.ValidatePassword(newPassword, s.cfg.MinPasswordLength); err != nil {
			return err
		}
		user, err := s.users.GetByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("load user by email: %w", err)
		}
		newHash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		now := s.nowFn()
		_, err = s.users.Update(ctx, user.UserID, func(u *domain.User) error {
			u.PasswordHash = newHash
			u.UpdatedAt = now
			return nil
		})
		userID = user.UserID.String()
		return err
	})
	if err != nil {
		s.recordTokenFailure(domain.PurposeResetPassword, err)
		return err
	}
	s.metrics.EphemeralToken(string(domain.PurposeResetPassword), "consumed")
	appLogger().InfoContext(ctx, "password reset completed",
		"operation", "reset_password",
		"outcome", "success",
		"user_id", userID,
	)
	return nil
}

func (s *Service) sendVerification(ctx context.Context, user domain.User) error {
	tokenID, err := s.issueEphemeralToken(ctx, user.Email, domain.PurposeVerifyEmail, s.cfg.VerificationTTL)
	if err != nil {
		return err
	}
	err = s.mailer.Send(ctx, ports.EmailMessage{
		TemplateKey: ports.TemplateVerifyEmail,
		Recipient:   user.Email,
		Params: map[string]string{
			"first_name": firstNonEmpty(user.FirstName, user.DisplayName()),
			"link":       s.buildLink("/auth/verify-email", user.Email, tokenID),
			"expires_in": s.cfg.VerificationTTL.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
	}
	return nil
}

func (s *Service) issueEphemeralToken(ctx context.Context, email string, purpose domain.TokenPurpose, ttl time.Duration) (string, error) {
	unlock := s.locks.Lock("issue:" + string(purpose) + "|" + email)
	defer unlock()

	if s.cfg.RevokeSupersededTokens {
		if err := s.tokens.RevokeOutstanding(ctx, email, purpose); err != nil {
			appLogger().WarnContext(ctx, "revoking superseded token failed",
				"operation", "issue_ephemeral_token",
				"outcome", "failure",
				"purpose", string(purpose),
				"error", err,
			)
		}
	}
	tokenID, err := randomAlphanumeric(ephemeralTokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	now := s.nowFn()
	err = s.tokens.Put(ctx, tokenID, domain.EphemeralToken{
		Email:     email,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store ephemeral token: %w", err)
	}
	s.metrics.EphemeralToken(string(purpose), "issued")
	return tokenID, nil
}

func (s *Service) recordTokenFailure(purpose domain.TokenPurpose, err error) {
	event := "rejected"
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		event = "not_found"
	case errors.Is(err, domain.ErrTokenExpired):
		event = "expired"
	case errors.Is(err, domain.ErrEmailMismatch):
		event = "email_mismatch"
	case errors.Is(err, domain.ErrWrongTokenPurpose):
		event = "wrong_purpose"
	}
	s.metrics.EphemeralToken(string(purpose), event)
}

func checkTokenFor(tok domain.EphemeralToken, email string, purpose domain.TokenPurpose) error {
	if tok.Purpose != purpose {
		return domain.ErrWrongTokenPurpose
	}
	if !strings.EqualFold(strings.TrimSpace(tok.Email), email) {
		return domain.ErrEmailMismatch
	}
	return nil
}
