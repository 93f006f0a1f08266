package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/platform/keylock"
)

// EphemeralTokenStore keeps tokens in process memory. A restart drops every
// outstanding token. Expired entries are reaped lazily on lookup.
type EphemeralTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.EphemeralToken
	// latest maps purpose|email to the newest token id issued for it.
	latest map[string]string
	locks  *keylock.Locker
}

func NewEphemeralTokenStore() *EphemeralTokenStore {
	return &EphemeralTokenStore{
		tokens: make(map[string]domain.EphemeralToken),
		latest: make(map[string]string),
		locks:  keylock.New(),
	}
}

func (s *EphemeralTokenStore) Put(_ context.Context, tokenID string, token domain.EphemeralToken) error {
	if err := token.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenID] = token
	s.latest[indexKey(token.Email, token.Purpose)] = tokenID
	return nil
}

func (s *EphemeralTokenStore) Consume(_ context.Context, tokenID string, now time.Time, redeem func(domain.EphemeralToken) error) error {
	unlock := s.locks.Lock(tokenID)
	defer unlock()

	s.mu.RLock()
	token, ok := s.tokens[tokenID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrTokenNotFound
	}
	if token.Expired(now) {
		s.remove(tokenID, token)
		return domain.ErrTokenExpired
	}
	if err := redeem(token); err != nil {
		return err
	}
	s.remove(tokenID, token)
	return nil
}

func (s *EphemeralTokenStore) RevokeOutstanding(_ context.Context, email string, purpose domain.TokenPurpose) error {
	key := indexKey(email, purpose)
	s.mu.RLock()
	tokenID, ok := s.latest[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	unlock := s.locks.Lock(tokenID)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[key] != tokenID {
		return nil
	}
	delete(s.tokens, tokenID)
	delete(s.latest, key)
	return nil
}

// Len reports the number of stored tokens, expired ones included.
func (s *EphemeralTokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *EphemeralTokenStore) remove(tokenID string, token domain.EphemeralToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	key := indexKey(token.Email, token.Purpose)
	if s.latest[key] == tokenID {
		delete(s.latest, key)
	}
}

func indexKey(email string, purpose domain.TokenPurpose) string {
	return string(purpose) + "|" + strings.ToLower(strings.TrimSpace(email))
}
