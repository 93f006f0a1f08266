package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*RedisEphemeralTokenStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisEphemeralTokenStore(client, RedisEphemeralTokenStoreConfig{
		Now:      func() time.Time { return t0 },
		LockWait: 500 * time.Millisecond,
	})
	return store, mr, client
}

func verifyToken(email string) domain.EphemeralToken {
	return domain.EphemeralToken{
		Email:     email,
		Purpose:   domain.PurposeVerifyEmail,
		CreatedAt: t0,
		ExpiresAt: t0.Add(24 * time.Hour),
	}
}

func TestRedisStorePutSetsTTLWithRetention(t *testing.T) {
	t.Parallel()

	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Put(context.Background(), "tok", verifyToken("a@x.com")))

	assert.True(t, mr.Exists(tokenKeyPrefix+"tok"))
	assert.Equal(t, 48*time.Hour, mr.TTL(tokenKeyPrefix+"tok"))
	idx, err := mr.Get(indexKey("a@x.com", domain.PurposeVerifyEmail))
	require.NoError(t, err)
	assert.Equal(t, "tok", idx)
}

func TestRedisStoreConsumeLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Put(ctx, "tok", verifyToken("a@x.com")))

	err := store.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return domain.ErrEmailMismatch })
	assert.ErrorIs(t, err, domain.ErrEmailMismatch)
	assert.True(t, mr.Exists(tokenKeyPrefix+"tok"))

	var got domain.EphemeralToken
	require.NoError(t, store.Consume(ctx, "tok", t0, func(tok domain.EphemeralToken) error {
		got = tok
		return nil
	}))
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, domain.PurposeVerifyEmail, got.Purpose)
	assert.False(t, mr.Exists(tokenKeyPrefix+"tok"))
	assert.False(t, mr.Exists(indexKey("a@x.com", domain.PurposeVerifyEmail)))
	assert.False(t, mr.Exists(lockKeyPrefix+"tok"))

	err = store.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil })
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestRedisStoreExpiredTokenIsRemoved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Put(ctx, "tok", verifyToken("a@x.com")))

	err := store.Consume(ctx, "tok", t0.Add(25*time.Hour), func(domain.EphemeralToken) error {
		t.Fatal("redeem must not run for an expired token")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.False(t, mr.Exists(tokenKeyPrefix+"tok"))
}

func TestRedisStoreConcurrentConsumeSucceedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Put(ctx, "tok", verifyToken("a@x.com")))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil })
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
	assert.Equal(t, int32(7), notFound.Load())
}

func TestRedisStoreBusyLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Put(ctx, "tok", verifyToken("a@x.com")))
	require.NoError(t, mr.Set(lockKeyPrefix+"tok", "other-replica"))

	err := store.Consume(ctx, "tok", t0, func(domain.EphemeralToken) error { return nil })
	assert.ErrorIs(t, err, ErrTokenBusy)
	assert.True(t, mr.Exists(tokenKeyPrefix+"tok"))
}

func TestRedisStoreRevokeOutstanding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	require.NoError(t, store.Put(ctx, "old", verifyToken("a@x.com")))
	require.NoError(t, store.RevokeOutstanding(ctx, "A@x.com", domain.PurposeVerifyEmail))
	assert.False(t, mr.Exists(tokenKeyPrefix+"old"))

	require.NoError(t, store.RevokeOutstanding(ctx, "a@x.com", domain.PurposeResetPassword))
}
