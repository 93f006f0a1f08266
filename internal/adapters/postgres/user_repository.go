package postgres

import (
	"context"
	"strings"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository persists identity records in Postgres.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error; err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return toDomainUser(rec), nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var rec userModel
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Take(&rec).Error
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return toDomainUser(rec), nil
}

func (r *UserRepository) GetByProvider(ctx context.Context, provider, subject string) (domain.User, error) {
	var rec userModel
	err := r.db.WithContext(ctx).
		Where("oauth_provider = ? AND provider_subject = ?", provider, subject).
		Take(&rec).Error
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return toDomainUser(rec), nil
}

func (r *UserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.UserID == uuid.Nil {
		user.UserID = uuid.New()
	}
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	rec := toUserModel(user)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.ErrConflict
		}
		return domain.User{}, err
	}
	return toDomainUser(rec), nil
}

// Update locks the row for the duration of mutate.
func (r *UserRepository) Update(ctx context.Context, userID uuid.UUID, mutate func(*domain.User) error) (domain.User, error) {
	var result domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec userModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&rec).Error
		if err != nil {
			return mapNotFound(err)
		}
		next := toDomainUser(rec)
		if err := mutate(&next); err != nil {
			return err
		}
		next.UserID = userID
		if err := next.Validate(); err != nil {
			return err
		}
		row := toUserModel(next)
		if err := tx.Select("*").Save(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
		result = toDomainUser(row)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return result, nil
}
