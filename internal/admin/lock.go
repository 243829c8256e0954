package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants short-lived exclusive leases. release is safe to call after
// the lease expired.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the lock only while it still holds our token, so a
// lease that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX PX, which makes the lease visible to every
// instance sharing the Redis server.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("admin/lock: acquire %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The caller's ctx may already be done when the work finishes.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}
	return release, true, nil
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	seq    uint64
	now    func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, held := l.leases[key]; held && now.Before(cur.expires) {
		return nil, false, nil
	}
	l.seq++
	mine := lease{token: l.seq, expires: now.Add(ttl)}
	l.leases[key] = mine

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, held := l.leases[key]; held && cur.token == mine.token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
