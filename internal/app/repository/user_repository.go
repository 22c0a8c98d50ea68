package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Touch(ctx context.Context, user *model.User, now time.Time) error
	Get(ctx context.Context, id string) (*model.User, error)
	SetBanned(ctx context.Context, id string, banned bool) error
	RecordJoin(ctx context.Context, id string, now time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a GORM-backed UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Touch upserts the user and counts one request against it.
func (r *userRepository) Touch(ctx context.Context, user *model.User, now time.Time) error {
	row := model.User{
		ID:            user.ID,
		Username:      user.Username,
		FirstName:     user.FirstName,
		TotalRequests: 1,
		JoinedAt:      now,
		LastActive:    now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"username":       user.Username,
				"first_name":     user.FirstName,
				"last_active":    now,
				"total_requests": gorm.Expr("users.total_requests + 1"),
			}),
		}).
		Create(&row).Error
}

func (r *userRepository) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) SetBanned(ctx context.Context, id string, banned bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("banned", banned)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordJoin counts a redemption against the user, creating the row when unseen.
func (r *userRepository) RecordJoin(ctx context.Context, id string, now time.Time) error {
	row := model.User{
		ID:         id,
		TotalJoins: 1,
		JoinedAt:   now,
		LastActive: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_active": now,
				"total_joins": gorm.Expr("users.total_joins + 1"),
			}),
		}).
		Create(&row).Error
}
