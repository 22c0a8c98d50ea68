package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/repository"
	infraPrometheus "github.com/sifan077/LinkVault/internal/infra/prometheus"
	"go.uber.org/zap"
)

const sideEffectTimeout = 5 * time.Second

// LinkRevoker revokes one link upstream and records it. ExpiryReaper implements it.
type LinkRevoker interface {
	Revoke(ctx context.Context, link *model.Link) (bool, error)
}

// RedemptionResult describes an accepted redemption.
type RedemptionResult struct {
	Link *model.Link
	// Exhausted is true when this redemption used the last unit of budget. The link is
	// already inactive in the store; only the upstream revocation is outstanding.
	Exhausted bool
}

// RecorderDeps groups dependencies required by the redemption recorder.
type RecorderDeps struct {
	Logger    *zap.Logger
	Links     repository.LinkRepository
	Resources repository.ResourceRepository
	Users     repository.UserRepository
	Events    EventPublisher
	Metrics   *infraPrometheus.Metrics
	Filter    *TokenFilter
	// Revoker, when set, revokes exhausted links right away instead of waiting for
	// the next sweep.
	Revoker LinkRevoker
	Now     func() time.Time
}

// RedemptionRecorder consumes link budget when a user redeems a token.
type RedemptionRecorder struct {
	logger    *zap.Logger
	links     repository.LinkRepository
	resources repository.ResourceRepository
	users     repository.UserRepository
	events    EventPublisher
	metrics   *infraPrometheus.Metrics
	filter    *TokenFilter
	revoker   LinkRevoker
	now       func() time.Time

	pending sync.WaitGroup
}

// NewRedemptionRecorder creates a redemption recorder.
func NewRedemptionRecorder(deps RecorderDeps) *RedemptionRecorder {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RedemptionRecorder{
		logger:    logger,
		links:     deps.Links,
		resources: deps.Resources,
		users:     deps.Users,
		events:    deps.Events,
		metrics:   deps.Metrics,
		filter:    deps.Filter,
		revoker:   deps.Revoker,
		now:       now,
	}
}

// RecordRedemption consumes one use of the link behind token. The check and the
// increment are one conditional store update, so concurrent callers can never spend
// more than the budget; losers get ErrLinkNotRedeemable. Join counters are updated
// afterwards on a best-effort basis and never undo the redemption.
func (r *RedemptionRecorder) RecordRedemption(ctx context.Context, token, userID string) (*RedemptionResult, error) {
	return r.record(ctx, token, userID, "")
}

// RecordObserved records a redemption reported by an event feed. Events carrying an
// ID are applied at most once: a redelivered event fails ErrDuplicateRedemption and
// leaves the budget untouched.
func (r *RedemptionRecorder) RecordObserved(ctx context.Context, event model.RedemptionEvent) (*RedemptionResult, error) {
	return r.record(ctx, event.Token, event.UserID, strings.TrimSpace(event.ID))
}

func (r *RedemptionRecorder) record(ctx context.Context, token, userID, key string) (*RedemptionResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		r.metrics.Redemption("unknown_token")
		return nil, ErrUnknownToken
	}
	if r.filter != nil && !r.filter.MayContain(token) {
		r.metrics.Redemption("unknown_token")
		return nil, ErrUnknownToken
	}

	now := r.now()
	var link *model.Link
	var err error
	if key != "" {
		link, err = r.links.RedeemOnce(ctx, token, key, now)
	} else {
		link, err = r.links.Redeem(ctx, token, now)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateRedemption):
			r.metrics.Redemption("duplicate")
			return nil, ErrDuplicateRedemption
		case errors.Is(err, repository.ErrLinkNotFound):
			r.metrics.Redemption("unknown_token")
			return nil, ErrUnknownToken
		case errors.Is(err, repository.ErrLinkNotRedeemable):
			r.metrics.Redemption("not_redeemable")
			return nil, ErrLinkNotRedeemable
		default:
			r.metrics.Redemption("error")
			return nil, fmt.Errorf("redeem link: %w", err)
		}
	}

	result := &RedemptionResult{Link: link, Exhausted: !link.Active()}
	r.metrics.Redemption("accepted")
	r.logger.Info("link redeemed",
		zap.String("link_id", link.ID),
		zap.String("resource_id", link.ResourceID),
		zap.String("user_id", userID),
		zap.Int("uses_consumed", link.UsesConsumed),
		zap.Bool("exhausted", result.Exhausted),
	)

	r.recordSideEffects(ctx, link, userID, now)
	publishEvent(ctx, r.events, r.logger, newLinkEvent(model.LinkEventRedeemed, link, userID, now))

	if result.Exhausted && r.revoker != nil {
		r.revokeInBackground(ctx, *link)
	}
	return result, nil
}

// Wait blocks until background revocations started by RecordRedemption have finished.
func (r *RedemptionRecorder) Wait() {
	r.pending.Wait()
}

func (r *RedemptionRecorder) recordSideEffects(ctx context.Context, link *model.Link, userID string, now time.Time) {
	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if r.resources != nil {
		if err := r.resources.IncrementJoins(sideCtx, link.ResourceID); err != nil {
			r.logger.Warn("failed to count resource join",
				zap.String("resource_id", link.ResourceID),
				zap.Error(err),
			)
		}
	}
	if r.users != nil && userID != "" {
		if err := r.users.RecordJoin(sideCtx, userID, now); err != nil {
			r.logger.Warn("failed to count user join",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}

func (r *RedemptionRecorder) revokeInBackground(ctx context.Context, link model.Link) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if _, err := r.revoker.Revoke(context.WithoutCancel(ctx), &link); err != nil {
			r.logger.Warn("immediate revocation failed, reaper will retry",
				zap.String("link_id", link.ID),
				zap.Error(err),
			)
		}
	}()
}
