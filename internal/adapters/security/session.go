package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the shortest signing secret accepted outside dev mode.
const MinSecretBytes = 32

// SessionCodec signs HS256 bearer tokens that carry only the subject and
// validity window. Authorization state is always re-read from the store.
type SessionCodec struct {
	secret []byte
	now    func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// NewSessionCodec copies secret; later mutation by the caller has no effect.
func NewSessionCodec(secret []byte) (*SessionCodec, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretBytes)
	}
	return &SessionCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}, nil
}

// NewEphemeralSessionCodec generates a random secret for local/dev use.
// Tokens do not survive a restart.
func NewEphemeralSessionCodec() (*SessionCodec, error) {
	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return NewSessionCodec(secret)
}

// WithClock replaces the time source, for tests.
func (c *SessionCodec) WithClock(now func() time.Time) *SessionCodec {
	clone := *c
	clone.now = now
	return &clone
}

func (c *SessionCodec) Issue(subjectID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("session subject is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	issuedAt := c.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	return token.SignedString(c.secret)
}

// Verify checks the signature before looking at any claim, then expiry.
// Input without a segment separator is malformed. Any other input whose
// segment layout or HMAC does not check out is a bad signature, so a
// tampered token is never reported as malformed.
func (c *SessionCodec) Verify(raw string) (string, error) {
	if raw == "" || !strings.Contains(raw, ".") {
		return "", domain.ErrSessionTokenMalformed
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", domain.ErrSessionTokenBadSignature
	}
	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return "", domain.ErrSessionTokenBadSignature
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, c.secret); err != nil {
		return "", domain.ErrSessionTokenBadSignature
	}

	claims := &sessionClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", domain.ErrSessionExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", domain.ErrSessionTokenBadSignature
	default:
		return "", fmt.Errorf("%w: %v", domain.ErrSessionTokenMalformed, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", domain.ErrSessionTokenMalformed)
	}
	return claims.Subject, nil
}
