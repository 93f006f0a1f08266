package application

import (
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
)

type Config struct {
	SessionTTL        time.Duration
	VerificationTTL   time.Duration
	ResetTTL          time.Duration
	MinPasswordLength int
	DefaultRole       domain.Role
	// FrontendURL is the base for links embedded in verification and reset emails.
	FrontendURL string
	// RevokeSupersededTokens invalidates the previous outstanding token of the
	// same purpose when a new one is issued for an email.
	RevokeSupersededTokens bool
	// OAuthLinkRequiresVerifiedEmail refuses to attach a provider identity to an
	// existing account unless the provider vouches for the email.
	OAuthLinkRequiresVerifiedEmail bool
	// ActivityTouchInterval throttles last-active writes; zero writes on every
	// resolved session.
	ActivityTouchInterval time.Duration
	TouchTimeout          time.Duration
}

const (
	DefaultSessionTTL      = 8 * 24 * time.Hour
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
	defaultTouchTimeout    = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.VerificationTTL <= 0 {
		c.VerificationTTL = DefaultVerificationTTL
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = DefaultResetTTL
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = domain.DefaultMinPasswordLength
	}
	if !c.DefaultRole.Valid() {
		c.DefaultRole = domain.RoleMember
	}
	if c.TouchTimeout <= 0 {
		c.TouchTimeout = defaultTouchTimeout
	}
	if c.ActivityTouchInterval < 0 {
		c.ActivityTouchInterval = 0
	}
	return c
}

type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type RegisterResponse struct {
	UserID string
	Email  string
	Status domain.Status
}

type LoginRequest struct {
	Email    string
	Password string
}

// TokenResponse is returned by every operation that mints a session token.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	UserID      string
	Email       string
	FirstName   string
	LastName    string
	AvatarURL   string
	Role        domain.Role
	IsNewUser   bool
}

type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}
