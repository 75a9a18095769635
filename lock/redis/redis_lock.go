// Package redis provides a Redis implementation of the lock.Locker
// interface using SET NX with TTLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fulfill/lock"
)

var _ lock.Locker = (*Locker)(nil)
var _ lock.Handle = (*handle)(nil)

// Locker implements distributed locking on Redis.
type Locker struct {
	client redis.Cmdable
	prefix string
}

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix for lock keys.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// New creates a Redis-backed locker.
func New(client redis.Cmdable, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: "fulfill:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire acquires locks on the given keys in sorted order. On any
// failure every already-acquired key is released before returning.
func (l *Locker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (lock.Handle, error) {
	if len(keys) == 0 {
		return nil, errors.New("no keys provided")
	}

	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	// The token proves ownership: extend and release only touch keys that
	// still hold it.
	token := uuid.New().String()

	h := &handle{
		client:   l.client,
		prefix:   l.prefix,
		token:    token,
		acquired: make([]string, 0, len(sorted)),
	}

	for _, key := range sorted {
		ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
		if err != nil {
			h.Release(ctx)
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if !ok {
			h.Release(ctx)
			return nil, fmt.Errorf("acquire %s: held by another process", key)
		}
		h.acquired = append(h.acquired, key)
	}

	return h, nil
}

type handle struct {
	client   redis.Cmdable
	prefix   string
	token    string
	acquired []string
	mu       sync.Mutex
}

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Extend extends the TTL of every held key.
func (h *handle) Extend(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.acquired) == 0 {
		return errors.New("no locks held")
	}

	var extendErr error
	for _, key := range h.acquired {
		result, err := extendScript.Run(ctx, h.client, []string{h.prefix + key}, h.token, ttl.Milliseconds()).Int()
		if err == nil && result == 0 {
			err = errors.New("lock not held or expired")
		}
		if err != nil {
			extendErr = errors.Join(extendErr, fmt.Errorf("extend %s: %w", key, err))
		}
	}
	return extendErr
}

// Release releases every held key, even when some releases fail.
func (h *handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var releaseErr error
	for _, key := range h.acquired {
		if _, err := releaseScript.Run(ctx, h.client, []string{h.prefix + key}, h.token).Result(); err != nil {
			releaseErr = errors.Join(releaseErr, fmt.Errorf("release %s: %w", key, err))
		}
	}
	h.acquired = nil
	return releaseErr
}

// Keys returns the held keys.
func (h *handle) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, len(h.acquired))
	copy(keys, h.acquired)
	return keys
}
