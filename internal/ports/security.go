package ports

import (
	"context"
	"time"
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify never errors; a malformed hash simply does not match.
	Verify(password, hash string) bool
}

// SessionTokenCodec mints and checks self-contained bearer tokens.
type SessionTokenCodec interface {
	Issue(subjectID string, ttl time.Duration) (string, error)
	Verify(token string) (string, error)
}

// ExternalIdentity is what a verified third-party assertion says about its subject.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	AvatarURL     string
}

type AssertionVerifier interface {
	VerifyIDToken(ctx context.Context, rawIDToken string) (ExternalIdentity, error)
}
