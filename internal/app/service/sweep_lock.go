package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseTimeout = 2 * time.Second

// SweepLock elects a single sweeper among replicas.
type SweepLock interface {
	// Acquire returns acquired=false when another holder owns the lock.
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisSweepLock is a SET NX lease in Redis.
type RedisSweepLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
	logger *zap.Logger
}

// NewRedisSweepLock creates a lease on key. ttl should exceed the longest sweep; it
// only matters when a holder dies without releasing.
func NewRedisSweepLock(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisSweepLock {
	if key == "" {
		key = "linkvault:reaper:lock"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSweepLock{
		client: client,
		key:    key,
		ttl:    ttl,
		owner:  uuid.New().String(),
		logger: logger,
	}
}

func (l *RedisSweepLock) Acquire(ctx context.Context) (func(), bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{l.key}, l.owner).Err(); err != nil {
			l.logger.Warn("failed to release sweep lock", zap.String("key", l.key), zap.Error(err))
		}
	}
	return release, true, nil
}
