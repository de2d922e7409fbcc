package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLock(t *testing.T, cfg RedisConfig) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedis(client, cfg), mr
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	l, mr := setupRedisLock(t, RedisConfig{})

	release, err := l.Acquire(context.Background(), "org1/S1/org-a")
	require.NoError(t, err)
	assert.True(t, mr.Exists(defaultPrefix+"org1/S1/org-a"))

	release()
	assert.False(t, mr.Exists(defaultPrefix+"org1/S1/org-a"))

	// Second release is a no-op
	release()
}

func TestRedis_ContendedLockTimesOut(t *testing.T) {
	l, _ := setupRedisLock(t, RedisConfig{Wait: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestRedis_ReleaseDoesNotDropForeignToken(t *testing.T) {
	l, mr := setupRedisLock(t, RedisConfig{TTL: time.Second})

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// Lock expired and someone else took it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(defaultPrefix+"k", "other-holder"))

	release()

	got, err := mr.Get(defaultPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestRedis_SerializesHolders(t *testing.T) {
	l, _ := setupRedisLock(t, RedisConfig{PollInterval: 5 * time.Millisecond})

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "shared")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestRedis_CancelledContext(t *testing.T) {
	l, _ := setupRedisLock(t, RedisConfig{})

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestNop(t *testing.T) {
	release, err := Nop{}.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
