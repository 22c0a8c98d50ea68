package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Integration tests run only when LINKVAULT_TEST_DSN points at a disposable Postgres.

func openTestGorm(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("LINKVAULT_TEST_DSN")
	if dsn == "" {
		t.Skip("LINKVAULT_TEST_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Resource{}, &model.Link{}, &model.User{}, &model.Redemption{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestPostgresResources_Lifecycle(t *testing.T) {
	db := openTestGorm(t)
	repo := NewResourceRepository(db)
	ctx := context.Background()
	id := "res-" + uuid.NewString()

	require.NoError(t, repo.Create(ctx, &model.Resource{ID: id, Name: "news", Active: true, LinkValidity: 5 * time.Minute, UsageBudget: 1}))
	assert.ErrorIs(t, repo.Create(ctx, &model.Resource{ID: id, Name: "dup", Active: true}), ErrDuplicateResource)

	require.NoError(t, repo.Deactivate(ctx, id))
	require.NoError(t, repo.Deactivate(ctx, id))
	assert.ErrorIs(t, repo.Deactivate(ctx, "res-missing-"+uuid.NewString()), ErrResourceNotFound)

	require.NoError(t, repo.IncrementJoins(ctx, id))
	res, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Active)
	assert.EqualValues(t, 1, res.TotalJoins)
	assert.Equal(t, 5*time.Minute, res.LinkValidity)
}

func TestPostgresLinks_ConcurrentRedeemSingleUse(t *testing.T) {
	db := openTestGorm(t)
	repo := NewLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	token := "tok-" + uuid.NewString()

	require.NoError(t, repo.Create(ctx, &model.Link{
		ID:          uuid.NewString(),
		ResourceID:  "res-concurrency",
		Token:       token,
		State:       model.LinkStateIssued,
		ExpiresAt:   now.Add(5 * time.Minute),
		UsageBudget: 1,
		CreatedAt:   now,
	}))

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Redeem(ctx, token, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, ErrLinkNotRedeemable), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	link, err := repo.GetByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, link.UsesConsumed)
	assert.Equal(t, model.LinkStateRevoked, link.State)

	applied, err := repo.MarkRevoked(ctx, link.ID, now)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = repo.MarkRevoked(ctx, link.ID, now)
	require.NoError(t, err)
	assert.False(t, applied)

	purged, err := repo.PurgeRevokedBefore(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	var found bool
	for _, p := range purged {
		if p.Token == token {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPostgresLinks_RedeemOnceAndDeferRevocation(t *testing.T) {
	db := openTestGorm(t)
	repo := NewLinkRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	link := &model.Link{
		ID:          uuid.NewString(),
		ResourceID:  "res-dedupe",
		Token:       "tok-" + uuid.NewString(),
		State:       model.LinkStateIssued,
		ExpiresAt:   now.Add(time.Minute),
		UsageBudget: 3,
		CreatedAt:   now,
	}
	require.NoError(t, repo.Create(ctx, link))

	key := "evt-" + uuid.NewString()
	_, err := repo.RedeemOnce(ctx, link.Token, key, now)
	require.NoError(t, err)
	_, err = repo.RedeemOnce(ctx, link.Token, key, now)
	assert.ErrorIs(t, err, ErrDuplicateRedemption)

	got, err := repo.GetByToken(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsesConsumed)

	later := now.Add(2 * time.Minute)
	require.NoError(t, repo.DeferRevocation(ctx, link.ID, later.Add(time.Hour)))
	stale, err := repo.ListStale(ctx, later, 1000)
	require.NoError(t, err)
	for _, l := range stale {
		assert.NotEqual(t, link.ID, l.ID)
	}

	got, err = repo.GetByToken(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RevokeAttempts)
}

func TestPostgresStats_Snapshot(t *testing.T) {
	db := openTestGorm(t)
	pool, err := pgxpool.New(context.Background(), os.Getenv("LINKVAULT_TEST_DSN"))
	require.NoError(t, err)
	defer pool.Close()

	now := time.Now().UTC()
	users := NewUserRepository(db)
	require.NoError(t, users.Touch(context.Background(), &model.User{ID: "u-" + uuid.NewString()}, now))

	stats, err := NewStatsRepository(pool).Snapshot(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalUsers, int64(1))
	assert.GreaterOrEqual(t, stats.ActiveUsers, int64(1))
}
