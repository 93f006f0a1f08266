package ports

import (
	"context"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
)

// EphemeralTokenStore holds single-use email tokens.
type EphemeralTokenStore interface {
	Put(ctx context.Context, tokenID string, token domain.EphemeralToken) error
	// Consume holds tokenID exclusively while redeem runs. A missing token yields
	// domain.ErrTokenNotFound; an expired one is removed and yields
	// domain.ErrTokenExpired. The token is removed only when redeem returns nil,
	// otherwise it stays valid and redeem's error is returned.
	Consume(ctx context.Context, tokenID string, now time.Time, redeem func(domain.EphemeralToken) error) error
	// RevokeOutstanding removes the latest unconsumed token issued for the
	// email and purpose, if any.
	RevokeOutstanding(ctx context.Context, email string, purpose domain.TokenPurpose) error
}
