package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker builds a locker over an existing client.
func NewRedisLocker(client redis.UniversalClient, prefix string, retry time.Duration, logger *zap.Logger) *RedisLocker {
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, prefix: prefix, retry: retry, logger: logger}
}

// Acquire polls until the lock is free or opts.BlockingTimeout elapses.
func (l *RedisLocker) Acquire(ctx context.Context, name string, opts Options) (Handle, error) {
	if opts.Timeout <= 0 {
		return nil, errors.New("lock timeout must be positive")
	}
	key := l.prefix + name
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(opts.BlockingTimeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, opts.Timeout).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		if ok {
			return &redisHandle{locker: l, name: name, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			l.logger.Warn("lock contended", zap.String("lock", name), zap.Duration("waited", time.Since(start)))
			return nil, &AcquisitionError{Name: name, Waited: time.Since(start)}
		}
		if err := wait(ctx, nextDelay(l.retry, deadline)); err != nil {
			return nil, err
		}
	}
}

type redisHandle struct {
	locker *RedisLocker
	name   string
	key    string
	token  string
}

func (h *redisHandle) Name() string {
	return h.name
}

// Release deletes the key only if this handle still owns it.
func (h *redisHandle) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, h.locker.client, []string{h.key}, h.token).Int()
	if err != nil {
		h.locker.logger.Error("lock release failed", zap.String("lock", h.name), zap.Error(err))
		return err
	}
	if deleted == 0 {
		h.locker.logger.Warn("lock expired before release", zap.String("lock", h.name))
	}
	return nil
}
