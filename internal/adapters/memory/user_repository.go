package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/platform/keylock"
	"github.com/google/uuid"
)

// UserRepository is a mutex-guarded user store for development and tests.
// It enforces the same uniqueness rules as the Postgres schema. The map
// mutex is only held for lookups and commits; Update serializes per user so
// a slow mutate never blocks readers or other accounts.
type UserRepository struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]domain.User
	locks *keylock.Locker
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:  make(map[uuid.UUID]domain.User),
		locks: keylock.New(),
	}
}

func (r *UserRepository) GetByID(_ context.Context, userID uuid.UUID) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *UserRepository) GetByProvider(_ context.Context, provider, subject string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.OAuthProvider == provider && u.ProviderSubject == subject && subject != "" {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r *UserRepository) Create(_ context.Context, user domain.User) (domain.User, error) {
	if user.UserID == uuid.Nil {
		user.UserID = uuid.New()
	}
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.UserID]; ok {
		return domain.User{}, domain.ErrConflict
	}
	if r.violatesUnique(user) {
		return domain.User{}, domain.ErrConflict
	}
	r.byID[user.UserID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, userID uuid.UUID, mutate func(*domain.User) error) (domain.User, error) {
	unlock := r.locks.Lock(userID.String())
	defer unlock()

	r.mu.Lock()
	current, ok := r.byID[userID]
	r.mu.Unlock()
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}

	next := current
	if err := mutate(&next); err != nil {
		return domain.User{}, err
	}
	next.UserID = userID
	if err := next.Validate(); err != nil {
		return domain.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[userID]; !ok {
		return domain.User{}, domain.ErrNotFound
	}
	if r.violatesUnique(next) {
		return domain.User{}, domain.ErrConflict
	}
	r.byID[userID] = next
	return next, nil
}

// violatesUnique must be called with r.mu held.
func (r *UserRepository) violatesUnique(candidate domain.User) bool {
	for id, u := range r.byID {
		if id == candidate.UserID {
			continue
		}
		if strings.EqualFold(u.Email, candidate.Email) {
			return true
		}
		if candidate.HasProvider() && u.OAuthProvider == candidate.OAuthProvider && u.ProviderSubject == candidate.ProviderSubject {
			return true
		}
	}
	return false
}
