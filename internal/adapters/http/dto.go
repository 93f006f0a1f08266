package http

import (
	"time"

	"github.com/akibul079/demo-sop-hub/internal/application"
	"github.com/akibul079/demo-sop-hub/internal/domain"
)

type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type googleLoginRequest struct {
	Token string `json:"token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type verifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type registerResponse struct {
	UserID string        `json:"user_id"`
	Email  string        `json:"email"`
	Status domain.Status `json:"status"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	UserID      string      `json:"user_id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	Role        domain.Role `json:"role"`
	IsNewUser   bool        `json:"is_new_user"`
}

type userResponse struct {
	UserID        string        `json:"user_id"`
	Email         string        `json:"email"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	AvatarURL     string        `json:"avatar_url,omitempty"`
	Role          domain.Role   `json:"role"`
	Status        domain.Status `json:"status"`
	EmailVerified bool          `json:"email_verified"`
	OAuthProvider string        `json:"oauth_provider,omitempty"`
	HasPassword   bool          `json:"has_password"`
	LoginCount    int           `json:"login_count"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActiveAt  *time.Time    `json:"last_active_at,omitempty"`
	LastLoginAt   *time.Time    `json:"last_login_at,omitempty"`
}

func toTokenResponse(res application.TokenResponse) tokenResponse {
	return tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresIn:   res.ExpiresIn,
		UserID:      res.UserID,
		Email:       res.Email,
		FirstName:   res.FirstName,
		LastName:    res.LastName,
		AvatarURL:   res.AvatarURL,
		Role:        res.Role,
		IsNewUser:   res.IsNewUser,
	}
}

// toUserResponse never exposes the password hash or provider subject.
func toUserResponse(u domain.User) userResponse {
	return userResponse{
		UserID:        u.UserID.String(),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		AvatarURL:     u.AvatarURL,
		Role:          u.Role,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		OAuthProvider: u.OAuthProvider,
		HasPassword:   u.HasPassword(),
		LoginCount:    u.LoginCount,
		CreatedAt:     u.CreatedAt,
		LastActiveAt:  u.LastActiveAt,
		LastLoginAt:   u.LastLoginAt,
	}
}
