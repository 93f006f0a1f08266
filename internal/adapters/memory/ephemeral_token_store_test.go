package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func resetToken(email string) domain.EphemeralToken {
	return domain.EphemeralToken{
		Email:     email,
		Purpose:   domain.PurposeResetPassword,
		CreatedAt: t0,
		ExpiresAt: t0.Add(time.Hour),
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEphemeralTokenStore()
	require.NoError(t, s.Put(ctx, "tok", resetToken("a@x.com")))

	var seen domain.EphemeralToken
	require.NoError(t, s.Consume(ctx, "tok", t0, func(tok domain.EphemeralToken) error {
		seen = tok
		return nil
	}))
	assert.Equal(t, "a@x.com", seen.Email)

	err := s.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestConsumeKeepsTokenWhenRedeemFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEphemeralTokenStore()
	require.NoError(t, s.Put(ctx, "tok", resetToken("a@x.com")))

	err := s.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return domain.ErrWeakPassword })
	assert.ErrorIs(t, err, domain.ErrWeakPassword)
	require.NoError(t, s.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil }))
}

func TestConsumeExpiredRemovesToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEphemeralTokenStore()
	require.NoError(t, s.Put(ctx, "tok", resetToken("a@x.com")))

	called := false
	err := s.Consume(ctx, "tok", t0.Add(time.Hour), func(domain.EphemeralToken) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.False(t, called)

	err = s.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEphemeralTokenStore()
	require.NoError(t, s.Put(ctx, "tok", resetToken("a@x.com")))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error {
				time.Sleep(time.Millisecond)
				return nil
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrTokenNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(31), notFound.Load())
}

func TestRevokeOutstandingDropsOnlyLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewEphemeralTokenStore()
	require.NoError(t, s.Put(ctx, "first", resetToken("a@x.com")))
	require.NoError(t, s.RevokeOutstanding(ctx, "A@X.com", domain.PurposeResetPassword))
	require.NoError(t, s.Put(ctx, "second", resetToken("a@x.com")))

	err := s.Consume(ctx, "first", t0, func(domain.EphemeralToken) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	require.NoError(t, s.Consume(ctx, "second", t0, func(domain.EphemeralToken) error { return nil }))

	require.NoError(t, s.RevokeOutstanding(ctx, "nobody@x.com", domain.PurposeVerifyEmail))
}

func TestPutRejectsInvalidToken(t *testing.T) {
	t.Parallel()

	s := NewEphemeralTokenStore()
	err := s.Put(context.Background(), "tok", domain.EphemeralToken{Email: "a@x.com", Purpose: "OTHER", ExpiresAt: t0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
