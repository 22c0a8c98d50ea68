package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
)

// MemoryStore keeps resources, links and users in process memory. It backs the
// "memory" storage driver for local development and the service tests.
// A single mutex guards every collection, so each conditional update is atomic.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]*model.Resource
	links     map[string]*model.Link // keyed by token
	users     map[string]*model.User
	// redemption keys seen by RedeemOnce
	redemptions map[string]time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*model.Resource),
		links:     make(map[string]*model.Link),
		users:     make(map[string]*model.User),

		redemptions: make(map[string]time.Time),
	}
}

// Resources returns the ResourceRepository view of the store.
func (s *MemoryStore) Resources() ResourceRepository { return memoryResources{s} }

// Links returns the LinkRepository view of the store.
func (s *MemoryStore) Links() LinkRepository { return memoryLinks{s} }

// Users returns the UserRepository view of the store.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Stats returns the StatsRepository view of the store.
func (s *MemoryStore) Stats() StatsRepository { return memoryStats{s} }

type memoryResources struct{ s *MemoryStore }

func (r memoryResources) Create(ctx context.Context, resource *model.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.resources[resource.ID]; ok {
		return ErrDuplicateResource
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	resource.UpdatedAt = now
	cp := *resource
	r.s.resources[resource.ID] = &cp
	return nil
}

func (r memoryResources) GetByID(ctx context.Context, id string) (*model.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	cp := *res
	return &cp, nil
}

func (r memoryResources) ListActive(ctx context.Context) ([]model.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.Resource, 0, len(r.s.resources))
	for _, res := range r.s.resources {
		if res.Active {
			out = append(out, *res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memoryResources) Deactivate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.resources[id]
	if !ok {
		return ErrResourceNotFound
	}
	res.Active = false
	res.UpdatedAt = time.Now().UTC()
	return nil
}

func (r memoryResources) IncrementJoins(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	res, ok := r.s.resources[id]
	if !ok {
		return ErrResourceNotFound
	}
	res.TotalJoins++
	return nil
}

type memoryLinks struct{ s *MemoryStore }

func (r memoryLinks) Create(ctx context.Context, link *model.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *link
	r.s.links[link.Token] = &cp
	return nil
}

func (r memoryLinks) GetByToken(ctx context.Context, token string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	link, ok := r.s.links[token]
	if !ok {
		return nil, ErrLinkNotFound
	}
	cp := *link
	return &cp, nil
}

func (r memoryLinks) ActiveForResource(ctx context.Context, resourceID string, now time.Time) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var best *model.Link
	for _, link := range r.s.links {
		if link.ResourceID != resourceID || !link.Redeemable(now) {
			continue
		}
		if best == nil || link.ExpiresAt.After(best.ExpiresAt) {
			best = link
		}
	}
	if best == nil {
		return nil, ErrLinkNotFound
	}
	cp := *best
	return &cp, nil
}

func (r memoryLinks) Redeem(ctx context.Context, token string, now time.Time) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.redeemLocked(token, now)
}

func (r memoryLinks) RedeemOnce(ctx context.Context, token, key string, now time.Time) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, seen := r.s.redemptions[key]; seen {
		return nil, ErrDuplicateRedemption
	}
	link, err := r.redeemLocked(token, now)
	if err != nil {
		return nil, err
	}
	r.s.redemptions[key] = now
	return link, nil
}

func (r memoryLinks) redeemLocked(token string, now time.Time) (*model.Link, error) {
	link, ok := r.s.links[token]
	if !ok {
		return nil, ErrLinkNotFound
	}
	if !link.Redeemable(now) {
		return nil, ErrLinkNotRedeemable
	}
	link.UsesConsumed++
	if link.UsesConsumed >= link.UsageBudget {
		link.State = model.LinkStateRevoked
		revokedAt := now
		link.RevokedAt = &revokedAt
	}
	cp := *link
	return &cp, nil
}

func (r memoryLinks) ListStale(ctx context.Context, now time.Time, limit int) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]model.Link, 0)
	for _, link := range r.s.links {
		if link.Stale(now) && link.RevokeDue(now) {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryLinks) MarkRevoked(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, link := range r.s.links {
		if link.ID != id {
			continue
		}
		if link.ProviderRevokedAt != nil {
			return false, nil
		}
		link.State = model.LinkStateRevoked
		if link.RevokedAt == nil {
			revokedAt := now
			link.RevokedAt = &revokedAt
		}
		confirmed := now
		link.ProviderRevokedAt = &confirmed
		return true, nil
	}
	return false, nil
}

func (r memoryLinks) DeferRevocation(ctx context.Context, id string, next time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, link := range r.s.links {
		if link.ID == id && link.ProviderRevokedAt == nil {
			link.RevokeAttempts++
			at := next
			link.NextRevokeAt = &at
			return nil
		}
	}
	return nil
}

func (r memoryLinks) PurgeRevokedBefore(ctx context.Context, cutoff time.Time) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var purged []model.Link
	for token, link := range r.s.links {
		if link.State != model.LinkStateRevoked || link.ProviderRevokedAt == nil || link.RevokedAt == nil {
			continue
		}
		if link.RevokedAt.Before(cutoff) {
			purged = append(purged, *link)
			delete(r.s.links, token)
		}
	}
	for key, at := range r.s.redemptions {
		if at.Before(cutoff) {
			delete(r.s.redemptions, key)
		}
	}
	return purged, nil
}

func (r memoryLinks) Tokens(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	tokens := make([]string, 0, len(r.s.links))
	for token := range r.s.links {
		tokens = append(tokens, token)
	}
	return tokens, nil
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Touch(ctx context.Context, user *model.User, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.users[user.ID]
	if !ok {
		r.s.users[user.ID] = &model.User{
			ID:            user.ID,
			Username:      user.Username,
			FirstName:     user.FirstName,
			TotalRequests: 1,
			JoinedAt:      now,
			LastActive:    now,
		}
		return nil
	}
	existing.Username = user.Username
	existing.FirstName = user.FirstName
	existing.LastActive = now
	existing.TotalRequests++
	return nil
}

func (r memoryUsers) Get(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r memoryUsers) SetBanned(ctx context.Context, id string, banned bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.Banned = banned
	return nil
}

func (r memoryUsers) RecordJoin(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		r.s.users[id] = &model.User{ID: id, TotalJoins: 1, JoinedAt: now, LastActive: now}
		return nil
	}
	user.TotalJoins++
	user.LastActive = now
	return nil
}

type memoryStats struct{ s *MemoryStore }

func (r memoryStats) Snapshot(ctx context.Context, activeSince, now time.Time) (*model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := &model.Stats{TotalUsers: int64(len(r.s.users))}
	for _, user := range r.s.users {
		if !user.LastActive.Before(activeSince) {
			stats.ActiveUsers++
		}
	}
	for _, res := range r.s.resources {
		if res.Active {
			stats.ActiveResources++
		}
		stats.TotalJoins += res.TotalJoins
	}
	for _, link := range r.s.links {
		if link.Redeemable(now) {
			stats.ActiveLinks++
		}
	}
	return stats, nil
}
