package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/ports"
	"github.com/google/uuid"
)

// GoogleLogin verifies a Google ID token, maps it onto exactly one local
// account and mints a session token for it.
func (s *Service) GoogleLogin(ctx context.Context, idToken string) (TokenResponse, error) {
	ext, err := s.VerifyAssertion(ctx, idToken)
	if err != nil {
		return TokenResponse{}, err
	}
	user, isNew, err := s.Reconcile(ctx, ext)
	if err != nil {
		return TokenResponse{}, err
	}
	if !user.CanAuthenticate() {
		s.metrics.AuthAttempt("google", "inactive")
		return TokenResponse{}, domain.ErrInactiveAccount
	}
	s.metrics.AuthAttempt("google", "success")
	return s.issueSession(user, isNew)
}

// VerifyAssertion never partially trusts a token: any verifier failure is
// reported as ErrInvalidAssertion and the detail only goes to the log.
func (s *Service) VerifyAssertion(ctx context.Context, idToken string) (ports.ExternalIdentity, error) {
	if s.assertions == nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%w: identity provider sign-in is not configured", domain.ErrInvalidAssertion)
	}
	ext, err := s.assertions.VerifyIDToken(ctx, idToken)
	if err != nil {
		appLogger().InfoContext(ctx, "identity assertion rejected",
			"operation", "verify_assertion",
			"outcome", "rejected",
			"error", err,
		)
		s.metrics.AuthAttempt("google", "invalid_assertion")
		return ports.ExternalIdentity{}, domain.ErrInvalidAssertion
	}
	if strings.TrimSpace(ext.Subject) == "" || strings.TrimSpace(ext.Provider) == "" {
		s.metrics.AuthAttempt("google", "invalid_assertion")
		return ports.ExternalIdentity{}, domain.ErrInvalidAssertion
	}
	return ext, nil
}

// Reconcile resolves a verified external identity to one local account:
// provider match, then email match (linking), then creation. The bool reports
// whether a new account was created.
func (s *Service) Reconcile(ctx context.Context, ext ports.ExternalIdentity) (domain.User, bool, error) {
	email, err := normalizeEmail(ext.Email)
	if err != nil {
		return domain.User{}, false, domain.ErrInvalidAssertion
	}
	ext.Email = email

	unlock := s.locks.Lock("provider:"+ext.Provider+":"+ext.Subject, "email:"+email)
	defer unlock()

	user, isNew, err := s.reconcileOnce(ctx, ext)
	if errors.Is(err, domain.ErrConflict) {
		// Another replica won the race; its record is now visible.
		user, isNew, err = s.reconcileOnce(ctx, ext)
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return user, isNew, nil
}

func (s *Service) reconcileOnce(ctx context.Context, ext ports.ExternalIdentity) (domain.User, bool, error) {
	now := s.nowFn()

	existing, err := s.users.GetByProvider(ctx, ext.Provider, ext.Subject)
	switch {
	case err == nil:
		user, err := s.users.Update(ctx, existing.UserID, func(u *domain.User) error {
			applyProviderProfile(u, ext)
			u.LastLoginAt = &now
			u.LastActiveAt = &now
			u.LoginCount++
			u.UpdatedAt = now
			return nil
		})
		if err != nil {
			return domain.User{}, false, fmt.Errorf("refresh provider account: %w", err)
		}
		return user, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, false, fmt.Errorf("load user by provider: %w", err)
	}

	existing, err = s.users.GetByEmail(ctx, ext.Email)
	switch {
	case err == nil:
		return s.linkProvider(ctx, existing, ext, now)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.User{}, false, fmt.Errorf("load user by email: %w", err)
	}

	created, err := s.users.Create(ctx, domain.User{
		UserID:          uuid.New(),
		Email:           ext.Email,
		FirstName:       firstNonEmpty(ext.GivenName, firstWord(ext.Name)),
		LastName:        ext.FamilyName,
		AvatarURL:       ext.AvatarURL,
		Role:            s.cfg.DefaultRole,
		Status:          domain.StatusActive,
		IsActive:        true,
		EmailVerified:   ext.EmailVerified,
		OAuthProvider:   ext.Provider,
		ProviderSubject: ext.Subject,
		LoginCount:      1,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastLoginAt:     &now,
		LastActiveAt:    &now,
	})
	if err != nil {
		return domain.User{}, false, err
	}
	appLogger().InfoContext(ctx, "account created from identity provider",
		"operation", "reconcile",
		"outcome", "created",
		"provider", ext.Provider,
		"user_id", created.UserID.String(),
	)
	return created, true, nil
}

func (s *Service) linkProvider(ctx context.Context, existing domain.User, ext ports.ExternalIdentity, now time.Time) (domain.User, bool, error) {
	if s.cfg.OAuthLinkRequiresVerifiedEmail && !ext.EmailVerified {
		appLogger().WarnContext(ctx, "refusing to link unverified provider email",
			"operation", "reconcile",
			"outcome", "rejected",
			"provider", ext.Provider,
			"user_id", existing.UserID.String(),
		)
		return domain.User{}, false, fmt.Errorf("%w: provider email is not verified", domain.ErrInvalidAssertion)
	}
	user, err := s.users.Update(ctx, existing.UserID, func(u *domain.User) error {
		u.OAuthProvider = ext.Provider
		u.ProviderSubject = ext.Subject
		applyProviderProfile(u, ext)
		u.LastLoginAt = &now
		u.LastActiveAt = &now
		u.LoginCount++
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.User{}, false, err
		}
		return domain.User{}, false, fmt.Errorf("link provider account: %w", err)
	}
	appLogger().InfoContext(ctx, "provider identity linked to existing account",
		"operation", "reconcile",
		"outcome", "linked",
		"provider", ext.Provider,
		"user_id", user.UserID.String(),
	)
	return user, false, nil
}

// applyProviderProfile never downgrades email verification and only fills
// profile fields the user has left empty.
func applyProviderProfile(u *domain.User, ext ports.ExternalIdentity) {
	if ext.EmailVerified {
		u.EmailVerified = true
		if u.Status == domain.StatusPending {
			u.Status = domain.StatusActive
		}
	}
	if u.AvatarURL == "" {
		u.AvatarURL = ext.AvatarURL
	}
	if u.FirstName == "" {
		u.FirstName = firstNonEmpty(ext.GivenName, firstWord(ext.Name))
	}
	if u.LastName == "" {
		u.LastName = ext.FamilyName
	}
}
