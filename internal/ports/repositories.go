package ports

import (
	"context"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/google/uuid"
)

// UserRepository is the user-record store. Lookups return domain.ErrNotFound
// when nothing matches and Create returns domain.ErrConflict on a duplicate
// email or provider subject.
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByProvider(ctx context.Context, provider, subject string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	// Update reads the current record, applies mutate and persists the result as
	// one atomic step for that record. A mutate error aborts without writing.
	Update(ctx context.Context, userID uuid.UUID, mutate func(*domain.User) error) (domain.User, error)
}
