package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderrag/core/internal/core/domain"
)

func TestPendingQueryRegistryPutGetDelete(t *testing.T) {
	r := NewPendingQueryRegistry()

	pq := domain.NewPendingQuery("req-1", "sess-1", "q", "q", nil, time.Now())
	r.Put(pq)

	require.Same(t, pq, r.Get("req-1"))

	r.Delete("req-1")
	assert.Nil(t, r.Get("req-1"))
}

func TestPendingQueryRegistryGetMissingReturnsNil(t *testing.T) {
	r := NewPendingQueryRegistry()
	assert.Nil(t, r.Get("does-not-exist"))
}

func TestPendingQueryRegistrySweepRemovesExpired(t *testing.T) {
	r := NewPendingQueryRegistry()

	expired := domain.NewPendingQuery("expired", "s", "q", "q", nil, time.Now().Add(-domain.PendingQueryTTL-time.Minute))
	fresh := domain.NewPendingQuery("fresh", "s", "q", "q", nil, time.Now())
	r.Put(expired)
	r.Put(fresh)

	require.Equal(t, 1, r.Sweep())
	assert.Nil(t, r.Get("expired"))
	assert.NotNil(t, r.Get("fresh"))
}

func TestPendingQueryRegistrySweepNoneExpired(t *testing.T) {
	r := NewPendingQueryRegistry()
	r.Put(domain.NewPendingQuery("a", "s", "q", "q", nil, time.Now()))
	r.Put(domain.NewPendingQuery("b", "s", "q", "q", nil, time.Now()))

	assert.Equal(t, 0, r.Sweep())
}
