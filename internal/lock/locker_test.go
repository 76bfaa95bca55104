package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/covasa/backoffice/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "covasa", TTL: time.Second, RetryBackoff: 2 * time.Millisecond}, mr
}

func TestWithLockSerialisesCallers(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(ctx, "board:quotes", func(context.Context) error {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()
				time.Sleep(3 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mr := newLocker(t)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "board:cobranza", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("covasa:lock:board:cobranza"))
}

func TestWithLockGivesUpAfterMaxWait(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set("covasa:lock:board:quotes", "someone-else"))
	locker.MaxWait = 20 * time.Millisecond

	called := false
	err := locker.WithLock(context.Background(), "board:quotes", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	require.False(t, called)
	require.True(t, mr.Exists("covasa:lock:board:quotes"), "foreign lease must not be released")
}

func TestWithLockHonoursCancellation(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set("covasa:lock:k", "held"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := locker.WithLock(ctx, "k", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithLockExtendsLeaseWhileRunning(t *testing.T) {
	locker, mr := newLocker(t)
	locker.TTL = 60 * time.Millisecond
	const key = "covasa:lock:board:slow"

	err := locker.WithLock(context.Background(), "board:slow", func(ctx context.Context) error {
		for range 4 {
			time.Sleep(50 * time.Millisecond)
			// without refreshes the lease would be gone after the second jump
			mr.FastForward(40 * time.Millisecond)
			require.True(t, mr.Exists(key))
		}
		return ctx.Err()
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestWithLockReportsLostLease(t *testing.T) {
	locker, mr := newLocker(t)
	locker.TTL = 30 * time.Millisecond
	const key = "covasa:lock:board:stolen"

	err := locker.WithLock(context.Background(), "board:stolen", func(ctx context.Context) error {
		require.NoError(t, mr.Set(key, "intruder"))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return errors.New("lease loss not noticed")
		}
	})
	require.ErrorIs(t, err, lock.ErrLeaseLost)
	require.ErrorIs(t, err, context.Canceled)
	value, getErr := mr.Get(key)
	require.NoError(t, getErr)
	require.Equal(t, "intruder", value)
}
