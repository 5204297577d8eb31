package pinguard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisAttemptStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisAttemptStore(rdb, "test:pin:", Policy{}), mr
}

func TestRedisAttemptStore_ThirdReservationArmsLock(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for want := 1; want <= 2; want++ {
		n, lockedFor, err := s.Reserve(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Zero(t, lockedFor)
	}

	n, lockedFor, err := s.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 15*time.Minute, lockedFor)
	assert.False(t, mr.Exists("test:pin:attempts:u1"), "counter is cleared once locked")

	left, err := s.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, (15 * time.Minute).Seconds(), left.Seconds(), 1)

	// Reservations while locked are refused and neither extend nor count.
	n, lockedFor, err = s.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Positive(t, lockedFor)
}

func TestRedisAttemptStore_LockExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := s.Reserve(ctx, "u1")
		require.NoError(t, err)
	}

	mr.FastForward(15*time.Minute + time.Second)

	left, err := s.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, left)

	n, _, err := s.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisAttemptStore_ResetClearsCounterAndLock(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, _ = s.Reserve(ctx, "u1")
	}
	require.NoError(t, s.Reset(ctx, "u1"))

	left, err := s.Locked(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, left)

	n, lockedFor, err := s.Reserve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, lockedFor)
}

func TestRedisAttemptStore_ConcurrentReservationsAreCapped(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		armed   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, lockedFor, err := s.Reserve(ctx, "u1")
			if err != nil || n == 0 {
				return
			}
			mu.Lock()
			granted++
			if lockedFor > 0 {
				armed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
	assert.Equal(t, 1, armed)
}

func TestGuardOverRedis(t *testing.T) {
	s, mr := newRedisStore(t)
	g := NewGuard(s, NewMemoryCredentialStore(), nil, Policy{})
	g.cost = 4
	ctx := context.Background()
	require.NoError(t, g.SetPin(ctx, "u1", "", "1234"))

	_ = g.Verify(ctx, "u1", "1111")
	_ = g.Verify(ctx, "u1", "2222")
	require.ErrorIs(t, g.Verify(ctx, "u1", "3333"), ErrLocked)
	require.ErrorIs(t, g.Verify(ctx, "u1", "1234"), ErrLocked)

	mr.FastForward(16 * time.Minute)
	assert.NoError(t, g.Verify(ctx, "u1", "1234"))
}

func TestGuardOverRedis_ConcurrentGuessesAreCapped(t *testing.T) {
	s, _ := newRedisStore(t)
	g := NewGuard(s, NewMemoryCredentialStore(), nil, Policy{})
	g.cost = 4
	require.NoError(t, g.SetPin(context.Background(), "u1", "", "1234"))

	comparisons := concurrentGuesses(t, g, 50)
	assert.Equal(t, 3, comparisons)
	assert.ErrorIs(t, g.LockStatus(context.Background(), "u1"), ErrLocked)
}
