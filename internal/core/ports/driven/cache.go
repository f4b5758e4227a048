package driven

import (
	"context"
	"time"
)

// ResponseCache is an optional cache in front of the Model Gateway's embed
// calls (SPEC_FULL.md domain stack: Redis via go-redis). A nil
// ResponseCache is a valid no-op configuration; callers must tolerate a
// cache miss or disabled cache identically.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
