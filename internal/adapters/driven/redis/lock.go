// Package redis adapts go-redis to the distributed-lock and response-cache
// driven ports (SPEC_FULL.md domain stack), guarding concurrent
// re-ingestion of the same doc_id across multiple ingestion-pipeline
// worker processes.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thunderrag/core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "thunderrag:lock:"

// Lock implements DistributedLock using Redis SETNX with TTL. Each
// Acquire call mints a fresh token; Release only deletes the key if the
// token still matches the current holder, so a stale caller can never
// release a lock re-acquired by someone else after its own TTL expired.
type Lock struct {
	client *redis.Client
}

// NewLock creates a new Redis-backed distributed lock.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire attempts to acquire a named lock with the given TTL using
// Redis SETNX (SET if Not eXists) for atomic acquisition.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	key := lockPrefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// releaseScript only deletes the lock if the current owner matches,
// preventing release of a lock now held by a different caller.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release releases a named lock if token still matches the current
// holder. Safe to call even if the lock is not held or has expired.
func (l *Lock) Release(ctx context.Context, name, token string) error {
	key := lockPrefix + name
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
