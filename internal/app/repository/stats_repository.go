package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/LinkVault/internal/app/model"
)

// StatsRepository computes aggregate counters for dashboards.
type StatsRepository interface {
	Snapshot(ctx context.Context, activeSince, now time.Time) (*model.Stats, error)
}

type statsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository returns a pgx-backed StatsRepository.
func NewStatsRepository(pool *pgxpool.Pool) StatsRepository {
	return &statsRepository{pool: pool}
}

const statsQuery = `
SELECT
	(SELECT COUNT(*) FROM users),
	(SELECT COUNT(*) FROM users WHERE last_active >= $1),
	(SELECT COUNT(*) FROM resources WHERE active),
	(SELECT COUNT(*) FROM links WHERE state = $2 AND expires_at > $3 AND uses_consumed < usage_budget),
	(SELECT COALESCE(SUM(total_joins), 0)::bigint FROM resources)`

func (r *statsRepository) Snapshot(ctx context.Context, activeSince, now time.Time) (*model.Stats, error) {
	var stats model.Stats
	err := r.pool.QueryRow(ctx, statsQuery, activeSince, string(model.LinkStateIssued), now).Scan(
		&stats.TotalUsers,
		&stats.ActiveUsers,
		&stats.ActiveResources,
		&stats.ActiveLinks,
		&stats.TotalJoins,
	)
	if err != nil {
		return nil, fmt.Errorf("stats snapshot: %w", err)
	}
	return &stats, nil
}
