package shared

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LedgerLockKey builds the lock key guarding one accrual row. clinicID is part
// of the key because doctor rows are kept per clinic.
func LedgerLockKey(subject string, subjectID, clinicID, monthID int64) string {
	return fmt.Sprintf("billing:accrual:%s:%d:%d:%d:lock", subject, subjectID, clinicID, monthID)
}

// Locker serializes critical sections identified by a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AcquireAll takes every distinct key in sorted order so that two callers
// locking overlapping key sets cannot deadlock. On failure the keys taken so
// far are released.
func AcquireAll(ctx context.Context, locker Locker, keys ...string) (func(), error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	releases := make([]func(), 0, len(uniq))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range uniq {
		release, err := locker.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// KeyedMutex is an in-process Locker. It is enough for a single replica and
// for tests.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Acquire blocks until key is free or ctx is done.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, entry)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			m.drop(key, entry)
		})
	}, nil
}

func (m *KeyedMutex) drop(key string, entry *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker is a Locker shared by every replica, backed by SET NX PX. A held
// key is renewed every third of its ttl until released.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	onLost func(key string, err error)
}

// RedisLockerOption customises a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockRetry sets the polling interval while a key is held elsewhere.
func WithLockRetry(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithLockLostHook registers a callback for locks that expired or were taken
// over while held. err wraps ErrLockLost. It runs at most once per Acquire.
func WithLockLostHook(fn func(key string, err error)) RedisLockerOption {
	return func(l *RedisLocker) {
		l.onLost = fn
	}
}

// NewRedisLocker constructs a RedisLocker. ttl bounds how long a crashed holder
// can block a key, wait bounds how long Acquire polls.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.wait <= 0 {
		l.wait = 10 * time.Second
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire polls until the key is set by this caller, the wait elapses or ctx
// is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("shared: lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}

	h := &redisHold{locker: l, key: key, token: token, stop: make(chan struct{}), done: make(chan struct{})}
	go h.renew()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(h.stop)
			<-h.done
			// the caller's ctx may already be cancelled; release regardless
			res, err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Int()
			if err != nil {
				h.markLost(err)
				return
			}
			if res == 0 {
				h.markLost(nil)
			}
		})
	}, nil
}

type redisHold struct {
	locker *RedisLocker
	key    string
	token  string
	lost   atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

func (h *redisHold) renew() {
	defer close(h.done)
	every := h.locker.ttl / 3
	if every <= 0 {
		every = h.locker.ttl
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}
		res, err := renewScript.Run(context.Background(), h.locker.client,
			[]string{h.key}, h.token, h.locker.ttl.Milliseconds()).Int()
		if err != nil {
			// retried on the next tick; the key outlives a few missed renewals
			continue
		}
		if res == 0 {
			h.markLost(nil)
			return
		}
	}
}

func (h *redisHold) markLost(cause error) {
	if !h.lost.CompareAndSwap(false, true) || h.locker.onLost == nil {
		return
	}
	err := fmt.Errorf("%w: %s", ErrLockLost, h.key)
	if cause != nil {
		err = fmt.Errorf("%w: %s: %v", ErrLockLost, h.key, cause)
	}
	h.locker.onLost(h.key, err)
}
