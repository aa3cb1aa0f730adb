package registry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/modelfleet/modelfleet/internal/metrics"
)

// Cleaner runs the eviction sweep on a cron schedule. The sweep is
// minute-scale by default (cleanup_interval), unlike the sub-minute
// probe/heartbeat loops, so a cron expression is a natural fit.
type Cleaner struct {
	dir             *Directory
	evictionTimeout time.Duration
	maxErrors       int
	every           time.Duration
}

// NewCleaner creates a Cleaner bound to dir.
func NewCleaner(dir *Directory, evictionTimeout time.Duration, maxErrors int, every time.Duration) *Cleaner {
	return &Cleaner{dir: dir, evictionTimeout: evictionTimeout, maxErrors: maxErrors, every: every}
}

// Run starts the cron-scheduled sweep and blocks until ctx is canceled.
func (c *Cleaner) Run(ctx context.Context) error {
	sched := cron.New()
	_, err := sched.AddFunc(fmt.Sprintf("@every %s", c.every), c.sweep)
	if err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}

	sched.Start()
	defer func() {
		stopCtx := sched.Stop()
		<-stopCtx.Done()
	}()

	<-ctx.Done()
	return nil
}

func (c *Cleaner) sweep() {
	evicted := c.dir.Sweep(c.evictionTimeout, c.maxErrors)
	if len(evicted) == 0 {
		return
	}
	metrics.EvictionsTotal.Add(float64(len(evicted)))
	log.Printf("[registry] evicted %d stale service(s): %v", len(evicted), evicted)
}
