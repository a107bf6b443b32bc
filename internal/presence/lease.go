package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeaseStore records that a user is still around. A lease that is not
// renewed before its TTL runs out lets the sweeper mark the user offline.
type LeaseStore interface {
	Renew(ctx context.Context, uid string, ttl time.Duration) error
	Alive(ctx context.Context, uid string) (bool, error)
	// Expiry is when uid's lease runs or ran out, zero when none is known.
	Expiry(ctx context.Context, uid string) (time.Time, error)
	Release(ctx context.Context, uid string) error
}

// RedisLeases keeps leases as expiring keys holding the lease expiry. A key
// outlives its lease by one more TTL so the sweeper can still read when a
// lapsed lease ran out.
type RedisLeases struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLeases(client *redis.Client, prefix string) *RedisLeases {
	if prefix == "" {
		prefix = "chatsync"
	}
	return &RedisLeases{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisLeases) key(uid string) string { return fmt.Sprintf("%s:presence:%s", r.prefix, uid) }

func (r *RedisLeases) Renew(ctx context.Context, uid string, ttl time.Duration) error {
	exp := r.now().Add(ttl).UnixMilli()
	if err := r.client.Set(ctx, r.key(uid), exp, 2*ttl).Err(); err != nil {
		return fmt.Errorf("renew lease %s: %w", uid, err)
	}
	return nil
}

func (r *RedisLeases) Expiry(ctx context.Context, uid string) (time.Time, error) {
	ms, err := r.client.Get(ctx, r.key(uid)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("check lease %s: %w", uid, err)
	}
	return time.UnixMilli(ms), nil
}

func (r *RedisLeases) Alive(ctx context.Context, uid string) (bool, error) {
	exp, err := r.Expiry(ctx, uid)
	if err != nil {
		return false, err
	}
	return r.now().Before(exp), nil
}

func (r *RedisLeases) Release(ctx context.Context, uid string) error {
	return r.client.Del(ctx, r.key(uid)).Err()
}

// MemoryLeases keeps leases in process.
type MemoryLeases struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{expiry: make(map[string]time.Time), now: time.Now}
}

// SetClock replaces the lease clock.
func (m *MemoryLeases) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryLeases) Renew(_ context.Context, uid string, ttl time.Duration) error {
	m.mu.Lock()
	m.expiry[uid] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLeases) Alive(_ context.Context, uid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiry[uid]
	return ok && m.now().Before(exp), nil
}

func (m *MemoryLeases) Expiry(_ context.Context, uid string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry[uid], nil
}

func (m *MemoryLeases) Release(_ context.Context, uid string) error {
	m.mu.Lock()
	delete(m.expiry, uid)
	m.mu.Unlock()
	return nil
}
