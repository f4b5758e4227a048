package driven

import (
	"context"
	"time"
)

// DistributedLock guards concurrent re-ingestion of the same doc_id across
// multiple ingestion-pipeline worker processes (SPEC_FULL.md domain stack:
// Redis SETNX-based lock, adapted from the teacher's lock adapter).
type DistributedLock interface {
	// Acquire attempts to take the named lock for ttl, returning a token
	// that must be passed to Release, and false if the lock is already
	// held.
	Acquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)

	// Release frees the named lock if token still matches the current
	// holder.
	Release(ctx context.Context, name, token string) error
}
