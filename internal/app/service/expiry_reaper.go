package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sifan077/LinkVault/internal/app/model"
	"github.com/sifan077/LinkVault/internal/app/provider"
	"github.com/sifan077/LinkVault/internal/app/repository"
	infraPrometheus "github.com/sifan077/LinkVault/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReaperConfig controls sweep cadence and fan-out.
type ReaperConfig struct {
	Interval       time.Duration
	Concurrency    int
	BatchSize      int
	AttemptTimeout time.Duration
	// RetryMaxDelay caps the wait before a link whose revocation failed is swept
	// again. The wait starts at Interval and doubles per failed attempt.
	RetryMaxDelay time.Duration
	// Retention is how long revoked links are kept before purging. Zero disables purging.
	Retention time.Duration
}

func (c ReaperConfig) normalized() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 6 * time.Hour
	}
	if c.RetryMaxDelay < c.Interval {
		c.RetryMaxDelay = c.Interval
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	return c
}

// ReaperDeps groups dependencies required by the expiry reaper.
type ReaperDeps struct {
	Logger  *zap.Logger
	Links   repository.LinkRepository
	Gateway provider.Gateway
	Events  EventPublisher
	Metrics *infraPrometheus.Metrics
	// Lock, when set, ensures only one replica sweeps at a time.
	Lock SweepLock
	Now  func() time.Time
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Skipped bool
	Scanned int
	Revoked int
	Failed  int
	Purged  int
}

// ExpiryReaper periodically revokes expired and used-up links upstream and marks them
// revoked in the store. The hosting process owns the handle: Start at init, Stop at
// shutdown.
type ExpiryReaper struct {
	logger  *zap.Logger
	links   repository.LinkRepository
	gateway provider.Gateway
	events  EventPublisher
	metrics *infraPrometheus.Metrics
	lock    SweepLock
	now     func() time.Time
	cfg     ReaperConfig

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewExpiryReaper creates a new expiry reaper.
func NewExpiryReaper(deps ReaperDeps, cfg ReaperConfig) *ExpiryReaper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ExpiryReaper{
		logger:   logger,
		links:    deps.Links,
		gateway:  deps.Gateway,
		events:   deps.Events,
		metrics:  deps.Metrics,
		lock:     deps.Lock,
		now:      now,
		cfg:      cfg.normalized(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweeps. It is a no-op after the first call.
func (r *ExpiryReaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run(ctx)
}

// Stop stops scheduling sweeps and waits for the current sweep. Revocations already
// dispatched are allowed to finish; records not yet dispatched wait for the next run.
func (r *ExpiryReaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

func (r *ExpiryReaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		case <-r.stopChan:
			r.logger.Info("expiry reaper stopped")
			return
		case <-ctx.Done():
			r.logger.Info("expiry reaper stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

func (r *ExpiryReaper) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

// Sweep runs one pass: revoke every stale link, then purge links revoked longer than
// the retention window. A link whose revocation fails is held back with a growing
// delay, so failing records cannot crowd the rest out of the batch.
func (r *ExpiryReaper) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	if r.lock != nil {
		release, acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			r.metrics.Sweep("lock_error", time.Since(start).Seconds())
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			report.Skipped = true
			r.metrics.Sweep("skipped", time.Since(start).Seconds())
			r.logger.Debug("sweep skipped, another replica holds the lock")
			return report, nil
		}
		defer release()
	}

	now := r.now()
	stale, err := r.links.ListStale(ctx, now, r.cfg.BatchSize)
	if err != nil {
		r.metrics.Sweep("error", time.Since(start).Seconds())
		return report, fmt.Errorf("list stale links: %w", err)
	}
	report.Scanned = len(stale)

	// Dispatched revocations must not be abandoned on shutdown, so they run on a
	// context that ignores cancellation; each call still has its own timeout.
	workCtx := context.WithoutCancel(ctx)
	var revoked, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for idx := range stale {
		if r.stopping(ctx) {
			break
		}
		link := stale[idx]
		g.Go(func() error {
			applied, err := r.Revoke(workCtx, &link)
			if err != nil {
				failed.Add(1)
				r.logger.Warn("link revocation failed, will retry later",
					zap.String("link_id", link.ID),
					zap.String("resource_id", link.ResourceID),
					zap.Error(err),
				)
				return nil
			}
			if applied {
				revoked.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Revoked = int(revoked.Load())
	report.Failed = int(failed.Load())

	if r.cfg.Retention > 0 && !r.stopping(ctx) {
		purged, err := r.purge(ctx, now)
		if err != nil {
			r.logger.Error("failed to purge revoked links", zap.Error(err))
		}
		report.Purged = purged
	}

	r.metrics.Sweep("ok", time.Since(start).Seconds())
	if report.Scanned > 0 || report.Purged > 0 {
		r.logger.Info("reaper sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("revoked", report.Revoked),
			zap.Int("failed", report.Failed),
			zap.Int("purged", report.Purged),
			zap.Duration("took", time.Since(start)),
		)
	}
	return report, nil
}

// Revoke revokes a single link upstream and records the outcome. An upstream "unknown
// token" counts as success. It reports whether this call moved the record; false with a
// nil error means another writer already recorded the revocation.
func (r *ExpiryReaper) Revoke(ctx context.Context, link *model.Link) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	if err := r.gateway.Revoke(attemptCtx, link.ResourceID, link.Token); err != nil {
		if !errors.Is(err, provider.ErrUnknownToken) {
			r.metrics.Revocation("failed")
			r.deferRevocation(ctx, link, err)
			return false, fmt.Errorf("revoke link %s: %w", link.ID, err)
		}
		r.logger.Debug("token already gone upstream", zap.String("link_id", link.ID))
	}

	markCtx, cancelMark := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancelMark()
	now := r.now()
	applied, err := r.links.MarkRevoked(markCtx, link.ID, now)
	if err != nil {
		r.metrics.Revocation("store_error")
		return false, fmt.Errorf("mark link %s revoked: %w", link.ID, err)
	}
	if !applied {
		r.metrics.Revocation("noop")
		return false, nil
	}

	r.metrics.Revocation("revoked")
	revokedLink := *link
	revokedLink.State = model.LinkStateRevoked
	publishEvent(ctx, r.events, r.logger, newLinkEvent(model.LinkEventRevoked, &revokedLink, "", now))
	return true, nil
}

// retryDelay is Interval doubled once per earlier failure, capped at RetryMaxDelay.
func (r *ExpiryReaper) retryDelay(attempts int) time.Duration {
	delay := r.cfg.Interval
	for i := 0; i < attempts && delay < r.cfg.RetryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, r.cfg.RetryMaxDelay)
}

func (r *ExpiryReaper) deferRevocation(ctx context.Context, link *model.Link, cause error) {
	delay := r.retryDelay(link.RevokeAttempts)
	deferCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	if err := r.links.DeferRevocation(deferCtx, link.ID, r.now().Add(delay)); err != nil {
		r.logger.Error("failed to schedule revocation retry",
			zap.String("link_id", link.ID),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("revocation retry scheduled",
		zap.String("link_id", link.ID),
		zap.Int("attempt", link.RevokeAttempts+1),
		zap.Duration("delay", delay),
		zap.Bool("permanent", provider.IsPermanent(cause)),
	)
}

func (r *ExpiryReaper) purge(ctx context.Context, now time.Time) (int, error) {
	purged, err := r.links.PurgeRevokedBefore(ctx, now.Add(-r.cfg.Retention))
	if err != nil {
		return 0, err
	}
	r.metrics.Purged(len(purged))
	for idx := range purged {
		publishEvent(ctx, r.events, r.logger, newLinkEvent(model.LinkEventPurged, &purged[idx], "", now))
	}
	return len(purged), nil
}
