package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/google/uuid"
)

// Register creates a pending password account and sends the first
// verification email. Dispatch failure does not undo the registration; the
// user can ask for a resend.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return RegisterResponse{}, err
	}
	if err := domain.ValidatePassword(req.Password, s.cfg.MinPasswordLength); err != nil {
		return RegisterResponse{}, err
	}
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	user, err := s.users.Create(ctx, domain.User{
		UserID:       uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         s.cfg.DefaultRole,
		Status:       domain.StatusPending,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return RegisterResponse{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return RegisterResponse{}, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendVerification(ctx, user); err != nil {
		appLogger().WarnContext(ctx, "verification email after registration failed",
			"operation", "register",
			"outcome", "partial",
			"user_id", user.UserID.String(),
			"error", err,
		)
	}
	return RegisterResponse{
		UserID: user.UserID.String(),
		Email:  user.Email,
		Status: user.Status,
	}, nil
}

// AuthenticatePassword resolves an email/password pair. Unknown email, an
// OAuth-only account and a wrong password are indistinguishable to the caller.
func (s *Service) AuthenticatePassword(ctx context.Context, email, password string) (domain.User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		s.burnComparison(password)
		return domain.User{}, domain.ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.burnComparison(password)
			s.metrics.AuthAttempt("password", "invalid_credentials")
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, fmt.Errorf("load user by email: %w", err)
	}
	if !user.HasPassword() {
		s.burnComparison(password)
		s.metrics.AuthAttempt("password", "invalid_credentials")
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.AuthAttempt("password", "invalid_credentials")
		return domain.User{}, domain.ErrInvalidCredentials
	}
	if !user.CanAuthenticate() {
		s.metrics.AuthAttempt("password", "inactive")
		return domain.User{}, domain.ErrInactiveAccount
	}
	s.metrics.AuthAttempt("password", "success")
	return user, nil
}

// Login authenticates a password account and mints a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenResponse, error) {
	user, err := s.AuthenticatePassword(ctx, req.Email, req.Password)
	if err != nil {
		return TokenResponse{}, err
	}
	user = s.stampLogin(ctx, user)
	return s.issueSession(user, false)
}

// ResolveSession turns a bearer token into the live user record. The codec's
// rejection reason is logged and flattened to ErrUnauthorized.
func (s *Service) ResolveSession(ctx context.Context, token string) (domain.User, error) {
	subject, err := s.codec.Verify(strings.TrimSpace(token))
	if err != nil {
		appLogger().InfoContext(ctx, "session token rejected",
			"operation", "resolve_session",
			"outcome", "rejected",
			"reason", sessionRejectReason(err),
		)
		s.metrics.AuthAttempt("session", "unauthorized")
		return domain.User{}, domain.ErrUnauthorized
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		s.metrics.AuthAttempt("session", "unauthorized")
		return domain.User{}, domain.ErrUnauthorized
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.AuthAttempt("session", "user_not_found")
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("load session user: %w", err)
	}
	if !user.CanAuthenticate() {
		s.metrics.AuthAttempt("session", "inactive")
		return domain.User{}, domain.ErrInactiveAccount
	}
	return s.touchActivity(ctx, user), nil
}

// ReissueToken swaps a still-valid session token for a fresh one.
func (s *Service) ReissueToken(ctx context.Context, token string) (TokenResponse, error) {
	user, err := s.ResolveSession(ctx, token)
	if err != nil {
		return TokenResponse{}, err
	}
	return s.issueSession(user, false)
}

// ChangePassword replaces the hash of a password account. The current
// password is checked against a fresh read inside the store's atomic update.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) error {
	if req.NewPassword != req.ConfirmPassword {
		return domain.ErrPasswordMismatch
	}
	if req.NewPassword == req.CurrentPassword {
		return domain.ErrNoPasswordChange
	}
	if err := domain.ValidatePassword(req.NewPassword, s.cfg.MinPasswordLength); err != nil {
		return err
	}
	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn()
	_, err = s.users.Update(ctx, userID, func(u *domain.User) error {
		if !u.HasPassword() {
			return domain.ErrOAuthOnlyAccount
		}
		if !s.hasher.Verify(req.CurrentPassword, u.PasswordHash) {
			return domain.ErrInvalidCredentials
		}
		u.PasswordHash = newHash
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		return err
	}
	appLogger().InfoContext(ctx, "password changed",
		"operation", "change_password",
		"outcome", "success",
		"user_id", userID.String(),
	)
	return nil
}

func (s *Service) issueSession(user domain.User, isNew bool) (TokenResponse, error) {
	token, err := s.codec.Issue(user.UserID.String(), s.cfg.SessionTTL)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("issue session token: %w", err)
	}
	return TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.cfg.SessionTTL.Seconds()),
		UserID:      user.UserID.String(),
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		AvatarURL:   user.AvatarURL,
		Role:        user.Role,
		IsNewUser:   isNew,
	}, nil
}

// stampLogin records the login best-effort and returns the freshest record
// it has.
func (s *Service) stampLogin(ctx context.Context, user domain.User) domain.User {
	now := s.nowFn()
	updated, err := s.users.Update(ctx, user.UserID, func(u *domain.User) error {
		u.LastLoginAt = &now
		u.LastActiveAt = &now
		u.LoginCount++
		return nil
	})
	if err != nil {
		appLogger().WarnContext(ctx, "login stamp failed",
			"operation", "stamp_login",
			"outcome", "failure",
			"user_id", user.UserID.String(),
			"error", err,
		)
		return user
	}
	return updated
}

// touchActivity never fails the caller and runs under its own short deadline
// so a slow store cannot stall authenticated requests.
func (s *Service) touchActivity(ctx context.Context, user domain.User) domain.User {
	now := s.nowFn()
	if s.cfg.ActivityTouchInterval > 0 && user.LastActiveAt != nil && now.Sub(*user.LastActiveAt) < s.cfg.ActivityTouchInterval {
		return user
	}
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TouchTimeout)
	defer cancel()
	_, err := s.users.Update(touchCtx, user.UserID, func(u *domain.User) error {
		u.LastActiveAt = &now
		return nil
	})
	if err != nil {
		appLogger().WarnContext(ctx, "last-active update failed",
			"operation", "touch_activity",
			"outcome", "failure",
			"user_id", user.UserID.String(),
			"error", err,
		)
		return user
	}
	user.LastActiveAt = &now
	return user
}

// burnComparison spends one bcrypt verification so a miss costs as much as a
// wrong password.
func (s *Service) burnComparison(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("sop-hub-timing-equalizer")
	})
	if s.dummyHash != "" {
		_ = s.hasher.Verify(password, s.dummyHash)
	}
}

func sessionRejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		return "expired"
	case errors.Is(err, domain.ErrSessionTokenBadSignature):
		return "bad_signature"
	case errors.Is(err, domain.ErrSessionTokenMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
