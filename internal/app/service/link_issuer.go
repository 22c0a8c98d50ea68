package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/provider"
	"github.com/sifan077/LinkVault/internal/app/repository"
	infraPrometheus "github.com/sifan077/LinkVault/internal/infra/prometheus"
	"go.uber.org/zap"
)

// RetryPolicy bounds the provider calls made while issuing a link.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = 5 * time.Second
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 10 * time.Second
	}
	return p
}

// IssuerDeps groups dependencies required by the link issuer.
type IssuerDeps struct {
	Logger    *zap.Logger
	Resources repository.ResourceRepository
	Links     repository.LinkRepository
	Gateway   provider.Gateway
	Events    EventPublisher
	Metrics   *infraPrometheus.Metrics
	Filter    *TokenFilter
	Now       func() time.Time
}

// LinkIssuer mints a fresh invite link for a resource and records it.
type LinkIssuer struct {
	logger    *zap.Logger
	resources repository.ResourceRepository
	links     repository.LinkRepository
	gateway   provider.Gateway
	events    EventPublisher
	metrics   *infraPrometheus.Metrics
	filter    *TokenFilter
	now       func() time.Time
	policy    RetryPolicy
}

// NewLinkIssuer creates a link issuer.
func NewLinkIssuer(deps IssuerDeps, policy RetryPolicy) *LinkIssuer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &LinkIssuer{
		logger:    logger,
		resources: deps.Resources,
		links:     deps.Links,
		gateway:   deps.Gateway,
		events:    deps.Events,
		metrics:   deps.Metrics,
		filter:    deps.Filter,
		now:       now,
		policy:    policy.normalized(),
	}
}

// Issue mints a new link for resourceID on behalf of userID. Every call mints a distinct
// token; reusing a live link is the caller's decision (see LinkRepository.ActiveForResource).
// No link is stored unless the provider returned a token.
func (i *LinkIssuer) Issue(ctx context.Context, resourceID, userID string) (*model.Link, error) {
	resource, err := i.resources.GetByID(ctx, resourceID)
	if err != nil {
		if errors.Is(err, repository.ErrResourceNotFound) {
			i.metrics.IssueFailed("resource_unavailable")
			return nil, fmt.Errorf("issue %s: %w", resourceID, ErrResourceUnavailable)
		}
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if !resource.Active {
		i.metrics.IssueFailed("resource_unavailable")
		return nil, fmt.Errorf("issue %s: resource inactive: %w", resourceID, ErrResourceUnavailable)
	}

	budget := resource.UsageBudget
	if budget < 1 {
		budget = 1
	}
	now := i.now()
	expiresAt := now.Add(resource.LinkValidity)

	token, err := i.mint(ctx, provider.MintRequest{
		ResourceID:  resource.ID,
		UsageBudget: budget,
		ExpiresAt:   expiresAt,
		Name:        "linkvault " + userID,
	})
	if err != nil {
		i.metrics.IssueFailed("provider")
		i.logger.Warn("failed to mint invite link",
			zap.String("resource_id", resource.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	link := &model.Link{
		ID:           uuid.New().String(),
		ResourceID:   resource.ID,
		Token:        token,
		IssuedTo:     userID,
		State:        model.LinkStateIssued,
		ExpiresAt:    expiresAt,
		UsageBudget:  budget,
		UsesConsumed: 0,
		CreatedAt:    now,
	}

	// Readers may see the row as soon as Create commits, so the filter learns the token
	// first. A token left behind by a failed write only costs a store lookup.
	if i.filter != nil {
		i.filter.Add(token)
	}

	// The token exists upstream now; record it even if the caller gave up meanwhile.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.policy.AttemptTimeout)
	defer cancel()
	if err := i.links.Create(storeCtx, link); err != nil {
		i.metrics.IssueFailed("store")
		i.discard(storeCtx, resource.ID, token)
		return nil, fmt.Errorf("store link: %w", err)
	}

	i.metrics.LinkIssued()
	i.logger.Info("invite link issued",
		zap.String("link_id", link.ID),
		zap.String("resource_id", resource.ID),
		zap.String("user_id", userID),
		zap.Time("expires_at", expiresAt),
		zap.Int("usage_budget", budget),
	)
	publishEvent(ctx, i.events, i.logger, newLinkEvent(model.LinkEventIssued, link, userID, now))
	return link, nil
}

func (i *LinkIssuer) mint(ctx context.Context, req provider.MintRequest) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.policy.BaseDelay
	b.MaxInterval = i.policy.MaxDelay

	attempt := 0
	operation := func() (string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, i.policy.AttemptTimeout)
		defer cancel()

		token, err := i.gateway.Mint(attemptCtx, req)
		if err != nil && provider.IsPermanent(err) {
			return "", backoff.Permanent(err)
		}
		return token, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(i.policy.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			fields := []zap.Field{
				zap.String("resource_id", req.ResourceID),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			}
			// Upstream hints are logged only; waits stay within the configured backoff.
			if hint, ok := provider.RetryAfter(err); ok {
				fields = append(fields, zap.Duration("retry_after", hint))
			}
			i.logger.Debug("retrying mint", fields...)
		}),
	)
}

// discard revokes a token that could not be recorded so it does not outlive the failure.
func (i *LinkIssuer) discard(ctx context.Context, resourceID, token string) {
	if err := i.gateway.Revoke(ctx, resourceID, token); err != nil && !errors.Is(err, provider.ErrUnknownToken) {
		i.logger.Error("failed to revoke unrecorded token",
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}
