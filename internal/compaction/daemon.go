package compaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/meridianlabs/meridian/internal/config"
	meridianerrors "github.com/meridianlabs/meridian/internal/errors"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/storage"
)

// Daemon runs compaction in the background, waking on a fixed interval
// and compacting every closed window it can take a lease on.
type Daemon struct {
	config    config.CompactionConfig
	store     storage.ObjectStorage
	compactor *Compactor
	leases    *LeaseManager
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewDaemon creates a compaction daemon.
func NewDaemon(cfg config.CompactionConfig, store storage.ObjectStorage, m *metrics.Metrics) *Daemon {
	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	return &Daemon{
		config:    cfg,
		store:     store,
		compactor: NewCompactor(store, cfg, m),
		leases:    NewLeaseManager(store, owner, cfg.LeaseTTL),
		logger:    log.New(log.Writer(), "[compaction] ", log.LstdFlags),
		now:       time.Now,
	}
}

// Start begins the compaction loop. It runs until the context is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("compaction: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the compaction daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// run is the main compaction loop.
func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	// Run immediately on start
	d.runOnce(ctx)

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

// TriggerCompaction performs one compaction cycle on demand, outside the
// ticker schedule.
func (d *Daemon) TriggerCompaction(ctx context.Context) error {
	return d.runCycle(ctx)
}

// runOnce performs one cycle and logs failures instead of surfacing them;
// the loop keeps going.
func (d *Daemon) runOnce(ctx context.Context) {
	if err := d.runCycle(ctx); err != nil && ctx.Err() == nil {
		d.logger.Printf("compaction cycle failed: %v", err)
	}
}

// runCycle discovers closed windows and compacts each one under a lease.
// A window locked by another compactor is skipped, not an error.
func (d *Daemon) runCycle(ctx context.Context) error {
	windows, err := DiscoverWindows(ctx, d.store, d.config.WindowHours, d.config.Delay, d.now())
	if err != nil {
		return fmt.Errorf("discover windows: %w", err)
	}

	for _, w := range windows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.compactWindow(ctx, w); err != nil {
			var merr *meridianerrors.MeridianError
			if errors.As(err, &merr) && merr.Code == meridianerrors.CodeWindowLocked {
				d.logger.Printf("skipping window %s: held elsewhere", w)
				continue
			}
			// Continue with other windows; the failed one is retried
			// next cycle since its completion markers were not written.
			d.logger.Printf("window %s failed: %v", w, err)
		}
	}
	return nil
}

func (d *Daemon) compactWindow(ctx context.Context, w Window) error {
	lease, err := d.leases.Acquire(ctx, w)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			d.logger.Printf("release lease for %s: %v", w, err)
		}
	}()

	_, err = d.compactor.CompactWindow(ctx, w)
	return err
}
