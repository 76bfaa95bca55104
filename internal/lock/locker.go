// Package lock serialises read-modify-write sections across API and worker
// processes with a Redis SET NX lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned when the lease could not be taken within MaxWait.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrLeaseLost is returned when another holder took the key while fn ran.
	ErrLeaseLost = errors.New("lock: lease lost")
)

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

// Locker provides a Redis-backed mutual exclusion lease.
type Locker struct {
	R            *redis.Client
	Prefix       string
	TTL          time.Duration
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls; zero waits until ctx is done.
	MaxWait time.Duration
}

// WithLock runs fn while holding the lease for key. The lease is extended
// every TTL/3 while fn runs; if it is lost, fn's context is cancelled and
// WithLock reports ErrLeaseLost. The lease is released when fn returns, only
// if it is still owned by this call.
func (l Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	fullKey := l.key(key)
	token := uuid.NewString()

	waitCtx := ctx
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.MaxWait)
		defer cancel()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := l.R.SetNX(waitCtx, fullKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if waitCtx.Err() != nil {
				return fmt.Errorf("%w: %s", ErrNotAcquired, key)
			}
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(retry)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		case <-timer.C:
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.R, []string{fullKey}, token).Err()
	}()

	fnCtx, cancel := context.WithCancelCause(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		l.keepAlive(fnCtx, fullKey, token, ttl, cancel)
	}()
	err := fn(fnCtx)
	lost := errors.Is(context.Cause(fnCtx), ErrLeaseLost)
	cancel(nil)
	<-stopped
	if lost {
		return errors.Join(fmt.Errorf("%w: %s", ErrLeaseLost, key), err)
	}
	return err
}

func (l Locker) keepAlive(ctx context.Context, key, token string, ttl time.Duration, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := extendScript.Run(ctx, l.R, []string{key}, token, ttl.Milliseconds()).Int()
		if err != nil {
			// a transient error is retried on the next tick
			continue
		}
		if n == 0 {
			lost(ErrLeaseLost)
			return
		}
	}
}

func (l Locker) key(key string) string {
	if l.Prefix == "" {
		return "lock:" + key
	}
	return l.Prefix + ":lock:" + key
}
