package service

import (
	"context"
	"testing"
	"time"

	"github.com/sifan077/LinkVault/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceService_Register(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewResourceService(store.Resources(), nil, LinkDefaults{Validity: 5 * time.Minute, UsageBudget: 1})
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterResourceInput{ID: " -100123 ", Name: "VIP channel"})
	require.NoError(t, err)
	assert.Equal(t, "-100123", res.ID)
	assert.True(t, res.Active)
	assert.Equal(t, 5*time.Minute, res.LinkValidity)
	assert.Equal(t, 1, res.UsageBudget)

	custom, err := svc.Register(ctx, RegisterResourceInput{ID: "-100456", Name: "Group", LinkValidity: time.Hour, UsageBudget: 10})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, custom.LinkValidity)
	assert.Equal(t, 10, custom.UsageBudget)

	_, err = svc.Register(ctx, RegisterResourceInput{ID: "-100123", Name: "again"})
	assert.ErrorIs(t, err, ErrDuplicateResource)

	for _, in := range []RegisterResourceInput{
		{ID: "", Name: "x"},
		{ID: "x", Name: " "},
		{ID: "x", Name: "x", UsageBudget: -1},
		{ID: "x", Name: "x", LinkValidity: -time.Second},
	} {
		_, err = svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", in)
	}
}

func TestResourceService_Deactivate(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewResourceService(store.Resources(), nil, LinkDefaults{})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterResourceInput{ID: "a", Name: "Alpha"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterResourceInput{ID: "b", Name: "Beta"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "a"))
	require.NoError(t, svc.Deactivate(ctx, "a"), "deactivate is idempotent")

	res, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, res.Active)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	assert.ErrorIs(t, svc.Deactivate(ctx, "missing"), ErrNotFound)
	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResourceService_DeactivatedResourceDrainsLinks(t *testing.T) {
	f := newFixture(t)
	f.register(t, "chan-1", 5*time.Minute, 1)
	ctx := context.Background()
	link, err := f.issuer.Issue(ctx, "chan-1", "user-1")
	require.NoError(t, err)

	svc := NewResourceService(f.store.Resources(), nil, LinkDefaults{})
	require.NoError(t, svc.Deactivate(ctx, "chan-1"))

	_, err = f.issuer.Issue(ctx, "chan-1", "user-2")
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	_, err = f.recorder.RecordRedemption(ctx, link.Token, "user-1")
	assert.NoError(t, err, "outstanding links stay redeemable after deactivation")
}
