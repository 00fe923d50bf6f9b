package presence

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically deletes presence rows that have been idle longer
// than the retention window. The 60s display cutoff only classifies rows
// as stale; physical removal is this reaper's job.
type Reaper struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper constructs a reaper sweeping at the given interval.
func NewReaper(store Store, retention, interval time.Duration, logger *slog.Logger) *Reaper {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Shutdown stops the sweep loop and waits for it to exit.
func (r *Reaper) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.retention)
	removed, err := r.store.DeleteIdle(sweepCtx, cutoff)
	if err != nil {
		r.logger.Error("presence sweep failed", "error", err)
		return
	}
	if removed > 0 {
		r.logger.Info("reaped idle presence rows", "removed", removed)
	}
}
