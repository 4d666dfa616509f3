package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLedgerLockKey(t *testing.T) {
	require.Equal(t, "billing:accrual:doctor:7:3:12:lock", LedgerLockKey("doctor", 7, 3, 12))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		counter int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, "k")
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			counter++

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Equal(t, 20, counter)
	require.Empty(t, m.locks)
}

func TestKeyedMutexTimesOut(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrLockTimeout)

	other, err := m.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestKeyedMutexReleaseIsIdempotent(t *testing.T) {
	m := NewKeyedMutex()
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

type recordingLocker struct {
	order    []string
	released []string
	failOn   string
}

func (r *recordingLocker) Acquire(_ context.Context, key string) (func(), error) {
	if key == r.failOn {
		return nil, errors.New("boom")
	}
	r.order = append(r.order, key)
	return func() { r.released = append(r.released, key) }, nil
}

func TestAcquireAllSortsAndDedupes(t *testing.T) {
	locker := &recordingLocker{}
	release, err := AcquireAll(context.Background(), locker, "b", "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, locker.order)

	release()
	require.Equal(t, []string{"c", "b", "a"}, locker.released)
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	locker := &recordingLocker{failOn: "c"}
	_, err := AcquireAll(context.Background(), locker, "c", "a", "b")
	require.Error(t, err)
	require.Equal(t, []string{"b", "a"}, locker.released)
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond, WithLockRetry(5*time.Millisecond))
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "billing:test:lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("billing:test:lock"))

	_, err = locker.Acquire(ctx, "billing:test:lock")
	require.ErrorIs(t, err, ErrLockTimeout)

	release()
	require.False(t, mr.Exists("billing:test:lock"))

	again, err := locker.Acquire(ctx, "billing:test:lock")
	require.NoError(t, err)
	again()
}

func TestRedisLockerReportsLostLock(t *testing.T) {
	mr, client := newTestRedis(t)
	var lost []string
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond,
		WithLockLostHook(func(key string, err error) {
			require.ErrorIs(t, err, ErrLockLost)
			lost = append(lost, key)
		}))

	release, err := locker.Acquire(context.Background(), "billing:test:lock")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("billing:test:lock"))

	release()
	require.Equal(t, []string{"billing:test:lock"}, lost)
}

func TestRedisLockerRenewsHeldLock(t *testing.T) {
	mr, client := newTestRedis(t)
	var lost atomic.Int32
	locker := NewRedisLocker(client, 300*time.Millisecond, 50*time.Millisecond,
		WithLockLostHook(func(string, error) { lost.Add(1) }))

	release, err := locker.Acquire(context.Background(), "billing:test:lock")
	require.NoError(t, err)

	// most of the lease is gone; the holder must push the expiry back out
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("billing:test:lock") > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	mr.FastForward(250 * time.Millisecond)
	require.True(t, mr.Exists("billing:test:lock"))

	release()
	require.False(t, mr.Exists("billing:test:lock"))
	require.Zero(t, lost.Load())
}

func TestRedisLockerReportsTakeoverWhileHeld(t *testing.T) {
	mr, client := newTestRedis(t)
	var lost atomic.Int32
	locker := NewRedisLocker(client, 300*time.Millisecond, 50*time.Millisecond,
		WithLockLostHook(func(_ string, err error) {
			if errors.Is(err, ErrLockLost) {
				lost.Add(1)
			}
		}))

	release, err := locker.Acquire(context.Background(), "billing:test:lock")
	require.NoError(t, err)
	require.NoError(t, mr.Set("billing:test:lock", "someone-else"))

	require.Eventually(t, func() bool { return lost.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	release()
	require.EqualValues(t, 1, lost.Load())
	val, err := mr.Get("billing:test:lock")
	require.NoError(t, err)
	require.Equal(t, "someone-else", val)
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 50*time.Millisecond)

	release, err := locker.Acquire(context.Background(), "billing:test:lock")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("billing:test:lock", "someone-else"))

	release()
	val, err := mr.Get("billing:test:lock")
	require.NoError(t, err)
	require.Equal(t, "someone-else", val)
}
