// Package reaper runs the background sweep that expires stale pending
// query records (spec.md section 5: "A background reaper sweeps pending
// records older than 10 minutes").
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thunderrag/core/internal/core/ports/driven"
)

// defaultInterval is how often the reaper checks for expired records.
// spec.md doesn't mandate a specific cadence, only the 10-minute TTL
// (domain.PendingQueryTTL), so a shorter sweep interval keeps the
// PendingQueryStore from growing much past its actual live set.
const defaultInterval = 1 * time.Minute

// Reaper periodically sweeps a driven.PendingQueryStore.
type Reaper struct {
	store    driven.PendingQueryStore
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds Reaper construction parameters.
type Config struct {
	Store    driven.PendingQueryStore
	Interval time.Duration // zero means defaultInterval
	Logger   *slog.Logger
}

// New creates a new Reaper.
func New(cfg Config) *Reaper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reaper{
		store:    cfg.Store,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the sweep loop. It runs until Stop is called or ctx is
// cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("reaper starting", "interval", r.interval)

	go r.loop(ctx)
}

// Stop blocks until the sweep loop has exited.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.mu.Unlock()

	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info("reaper stopped")
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			n := r.store.Sweep()
			if n > 0 {
				r.logger.Info("reaper swept expired pending queries", "count", n)
			}
		}
	}
}
