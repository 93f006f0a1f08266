package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	tokenKeyPrefix = "identity:ephemeral:"
	indexKeyPrefix = "identity:ephemeral-idx:"
	lockKeyPrefix  = "identity:ephemeral-lock:"

	defaultRetention = 24 * time.Hour
	defaultLockTTL   = 10 * time.Second
	defaultLockWait  = 3 * time.Second
	lockRetryEvery   = 10 * time.Millisecond
)

// ErrTokenBusy is returned when another replica holds the token longer than
// the configured wait.
var ErrTokenBusy = errors.New("ephemeral token is being redeemed elsewhere")

// removeToken drops the record and clears the index only if it still points
// at this token.
var removeToken = redis.NewScript(`
redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
	redis.call("DEL", KEYS[2])
end
return 1
`)

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisEphemeralTokenStoreConfig struct {
	// Retention keeps expired records around so lookups can still report them
	// as expired before Redis reclaims the key.
	Retention time.Duration
	LockTTL   time.Duration
	LockWait  time.Duration
	Now       func() time.Time
}

// RedisEphemeralTokenStore shares email tokens across replicas.
type RedisEphemeralTokenStore struct {
	client    redis.UniversalClient
	retention time.Duration
	lockTTL   time.Duration
	lockWait  time.Duration
	now       func() time.Time
}

func NewRedisEphemeralTokenStore(client redis.UniversalClient, cfg RedisEphemeralTokenStoreConfig) *RedisEphemeralTokenStore {
	s := &RedisEphemeralTokenStore{
		client:    client,
		retention: cfg.Retention,
		lockTTL:   cfg.LockTTL,
		lockWait:  cfg.LockWait,
		now:       cfg.Now,
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.lockWait <= 0 {
		s.lockWait = defaultLockWait
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *RedisEphemeralTokenStore) Put(ctx context.Context, tokenID string, token domain.EphemeralToken) error {
	if err := token.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := token.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, tokenKeyPrefix+tokenID, raw, ttl)
		p.Set(ctx, indexKey(token.Email, token.Purpose), tokenID, ttl)
		return nil
	})
	return err
}

func (s *RedisEphemeralTokenStore) Consume(ctx context.Context, tokenID string, now time.Time, redeem func(domain.EphemeralToken) error) error {
	unlock, err := s.lock(ctx, tokenID)
	if err != nil {
		return err
	}
	defer unlock()

	token, err := s.get(ctx, tokenID)
	if err != nil {
		return err
	}
	if token.Expired(now) {
		if err := s.remove(ctx, tokenID, token); err != nil {
			return err
		}
		return domain.ErrTokenExpired
	}
	if err := redeem(token); err != nil {
		return err
	}
	return s.remove(ctx, tokenID, token)
}

func (s *RedisEphemeralTokenStore) RevokeOutstanding(ctx context.Context, email string, purpose domain.TokenPurpose) error {
	tokenID, err := s.client.Get(ctx, indexKey(email, purpose)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, tokenID)
	if err != nil {
		return err
	}
	defer unlock()
	token, err := s.get(ctx, tokenID)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return s.client.Del(ctx, indexKey(email, purpose)).Err()
	}
	if err != nil {
		return err
	}
	return s.remove(ctx, tokenID, token)
}

func (s *RedisEphemeralTokenStore) get(ctx context.Context, tokenID string) (domain.EphemeralToken, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+tokenID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EphemeralToken{}, domain.ErrTokenNotFound
		}
		return domain.EphemeralToken{}, err
	}
	var token domain.EphemeralToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return domain.EphemeralToken{}, fmt.Errorf("decode ephemeral token: %w", err)
	}
	return token, nil
}

func (s *RedisEphemeralTokenStore) remove(ctx context.Context, tokenID string, token domain.EphemeralToken) error {
	keys := []string{tokenKeyPrefix + tokenID, indexKey(token.Email, token.Purpose)}
	return removeToken.Run(ctx, s.client, keys, tokenID).Err()
}

func (s *RedisEphemeralTokenStore) lock(ctx context.Context, tokenID string) (func(), error) {
	owner, err := randomOwner()
	if err != nil {
		return nil, err
	}
	key := lockKeyPrefix + tokenID
	deadline := time.Now().Add(s.lockWait)
	for {
		ok, err := s.client.SetNX(ctx, key, owner, s.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release must outlive a cancelled request context.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				_ = releaseLock.Run(releaseCtx, s.client, []string{key}, owner).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTokenBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryEvery):
		}
	}
}

func indexKey(email string, purpose domain.TokenPurpose) string {
	return indexKeyPrefix + string(purpose) + ":" + strings.ToLower(strings.TrimSpace(email))
}

func randomOwner() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
