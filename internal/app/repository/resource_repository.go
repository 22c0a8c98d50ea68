package repository

import (
	"context"
	"errors"

	"github.com/sifan077/LinkVault/internal/app/model"
	"gorm.io/gorm"
)

// ResourceRepository defines the data access contract for gated resources.
type ResourceRepository interface {
	Create(ctx context.Context, resource *model.Resource) error
	GetByID(ctx context.Context, id string) (*model.Resource, error)
	ListActive(ctx context.Context) ([]model.Resource, error)
	Deactivate(ctx context.Context, id string) error
	IncrementJoins(ctx context.Context, id string) error
}

type resourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository returns a GORM-backed ResourceRepository.
func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) Create(ctx context.Context, resource *model.Resource) error {
	if err := r.db.WithContext(ctx).Create(resource).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateResource
		}
		return err
	}
	return nil
}

func (r *resourceRepository) GetByID(ctx context.Context, id string) (*model.Resource, error) {
	var resource model.Resource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&resource).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}
	return &resource, nil
}

func (r *resourceRepository) ListActive(ctx context.Context) ([]model.Resource, error) {
	var result []model.Resource
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// Deactivate is idempotent; it only fails when the resource is missing.
func (r *resourceRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Resource{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrResourceNotFound
	}
	return nil
}

func (r *resourceRepository) IncrementJoins(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Resource{}).
		Where("id = ?", id).
		Update("total_joins", gorm.Expr("total_joins + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrResourceNotFound
	}
	return nil
}
