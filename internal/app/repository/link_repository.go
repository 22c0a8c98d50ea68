package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkRepository defines the data access contract for invite links.
//
// Redeem and MarkRevoked are conditional updates: they apply only when the row still
// matches the precondition at write time, which is what keeps concurrent redemptions
// and reaper sweeps from stepping on each other without a lock manager.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByToken(ctx context.Context, token string) (*model.Link, error)
	ActiveForResource(ctx context.Context, resourceID string, now time.Time) (*model.Link, error)
	Redeem(ctx context.Context, token string, now time.Time) (*model.Link, error)
	// RedeemOnce is Redeem guarded by a caller-supplied key. The key is stored with
	// the increment, so a repeated key fails ErrDuplicateRedemption and consumes nothing.
	RedeemOnce(ctx context.Context, token, key string, now time.Time) (*model.Link, error)
	ListStale(ctx context.Context, now time.Time, limit int) ([]model.Link, error)
	MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error)
	// DeferRevocation records a failed upstream revocation and hides the link from
	// ListStale until next.
	DeferRevocation(ctx context.Context, id string, next time.Time) error
	PurgeRevokedBefore(ctx context.Context, cutoff time.Time) ([]model.Link, error)
	Tokens(ctx context.Context) ([]string, error)
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *linkRepository) GetByToken(ctx context.Context, token string) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ActiveForResource(ctx context.Context, resourceID string, now time.Time) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).
		Where("resource_id = ? AND state = ? AND expires_at > ? AND uses_consumed < usage_budget",
			resourceID, model.LinkStateIssued, now).
		Order("expires_at DESC").
		First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// Redeem consumes one use of the link in a single statement. When the increment
// reaches the budget the same statement moves the link to the revoked state.
func (r *linkRepository) Redeem(ctx context.Context, token string, now time.Time) (*model.Link, error) {
	return redeem(r.db.WithContext(ctx), token, now)
}

func (r *linkRepository) RedeemOnce(ctx context.Context, token, key string, now time.Time) (*model.Link, error) {
	var link *model.Link
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.Redemption{Key: key, Token: token, RecordedAt: now})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrDuplicateRedemption
		}
		redeemed, err := redeem(tx, token, now)
		if err != nil {
			return err
		}
		link = redeemed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func redeem(db *gorm.DB, token string, now time.Time) (*model.Link, error) {
	var link model.Link
	result := db.Model(&link).
		Clauses(clause.Returning{}).
		Where("token = ? AND state = ? AND expires_at > ? AND uses_consumed < usage_budget",
			token, model.LinkStateIssued, now).
		Updates(map[string]interface{}{
			"uses_consumed": gorm.Expr("uses_consumed + 1"),
			"state": gorm.Expr("CASE WHEN uses_consumed + 1 >= usage_budget THEN ? ELSE state END",
				model.LinkStateRevoked),
			"revoked_at": gorm.Expr("CASE WHEN uses_consumed + 1 >= usage_budget THEN ? ELSE revoked_at END",
				now),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&model.Link{}).Where("token = ?", token).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrLinkNotFound
		}
		return nil, ErrLinkNotRedeemable
	}
	return &link, nil
}

func (r *linkRepository) ListStale(ctx context.Context, now time.Time, limit int) ([]model.Link, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("((state = ? AND (expires_at <= ? OR uses_consumed >= usage_budget)) OR (state = ? AND provider_revoked_at IS NULL)) AND (next_revoke_at IS NULL OR next_revoke_at <= ?)",
			model.LinkStateIssued, now, model.LinkStateRevoked, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// MarkRevoked records a confirmed upstream revocation. It is keyed on the
// provider_revoked_at value the caller observed, so a second writer is a no-op.
func (r *linkRepository) MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND provider_revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"state":               model.LinkStateRevoked,
			"revoked_at":          gorm.Expr("COALESCE(revoked_at, ?)", now),
			"provider_revoked_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *linkRepository) DeferRevocation(ctx context.Context, id string, next time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND provider_revoked_at IS NULL", id).
		Updates(map[string]interface{}{
			"revoke_attempts": gorm.Expr("revoke_attempts + 1"),
			"next_revoke_at":  next,
		}).Error
}

// PurgeRevokedBefore deletes confirmed revocations older than cutoff, together with
// redemption keys recorded before it.
func (r *linkRepository) PurgeRevokedBefore(ctx context.Context, cutoff time.Time) ([]model.Link, error) {
	var purged []model.Link
	result := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("state = ? AND provider_revoked_at IS NOT NULL AND revoked_at < ?", model.LinkStateRevoked, cutoff).
		Delete(&purged)
	if result.Error != nil {
		return nil, result.Error
	}
	if err := r.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&model.Redemption{}).Error; err != nil {
		return purged, err
	}
	return purged, nil
}

func (r *linkRepository) Tokens(ctx context.Context) ([]string, error) {
	var tokens []string
	if err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Pluck("token", &tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}
