package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/provider"
	"github.com/sifan077/LinkVault/internal/app/repository"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mintFn   func(ctx context.Context, req provider.MintRequest) (string, error)
	revokeFn func(ctx context.Context, resourceID, token string) error

	seq     atomic.Int64
	mints   atomic.Int32
	revokes atomic.Int32
}

func (g *fakeGateway) Mint(ctx context.Context, req provider.MintRequest) (string, error) {
	g.mints.Add(1)
	if g.mintFn != nil {
		return g.mintFn(ctx, req)
	}
	return fmt.Sprintf("https://t.me/+tok%d", g.seq.Add(1)), nil
}

func (g *fakeGateway) Revoke(ctx context.Context, resourceID, token string) error {
	g.revokes.Add(1)
	if g.revokeFn != nil {
		return g.revokeFn(ctx, resourceID, token)
	}
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LinkEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.LinkEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingResources struct {
	repository.ResourceRepository
}

func (failingResources) IncrementJoins(context.Context, string) error {
	return fmt.Errorf("counter store down")
}

// fixture wires the services the way cmd/server does, on top of the memory store.
type fixture struct {
	store    *repository.MemoryStore
	clock    *fakeClock
	gateway  *fakeGateway
	events   *recordingPublisher
	issuer   *LinkIssuer
	reaper   *ExpiryReaper
	recorder *RedemptionRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   repository.NewMemoryStore(),
		clock:   newFakeClock(),
		gateway: &fakeGateway{},
		events:  &recordingPublisher{},
	}
	f.rebuild()
	return f
}

func (f *fixture) rebuild() {
	f.issuer = NewLinkIssuer(IssuerDeps{
		Resources: f.store.Resources(),
		Links:     f.store.Links(),
		Gateway:   f.gateway,
		Events:    f.events,
		Now:       f.clock.Now,
	}, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, AttemptTimeout: time.Second})
	f.reaper = NewExpiryReaper(ReaperDeps{
		Links:   f.store.Links(),
		Gateway: f.gateway,
		Events:  f.events,
		Now:     f.clock.Now,
	}, ReaperConfig{Interval: time.Hour, Concurrency: 4, AttemptTimeout: time.Second})
	f.recorder = NewRedemptionRecorder(RecorderDeps{
		Links:     f.store.Links(),
		Resources: f.store.Resources(),
		Users:     f.store.Users(),
		Events:    f.events,
		Now:       f.clock.Now,
	})
}

func (f *fixture) register(t *testing.T, id string, validity time.Duration, budget int) {
	t.Helper()
	require.NoError(t, f.store.Resources().Create(context.Background(), &model.Resource{
		ID:           id,
		Name:         "channel " + id,
		Active:       true,
		LinkValidity: validity,
		UsageBudget:  budget,
	}))
}

func (f *fixture) link(t *testing.T, token string) *model.Link {
	t.Helper()
	link, err := f.store.Links().GetByToken(context.Background(), token)
	require.NoError(t, err)
	return link
}
