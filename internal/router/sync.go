package router

import (
	"context"
	"log"
	"time"

	"github.com/modelfleet/modelfleet/internal/metrics"
	"github.com/modelfleet/modelfleet/internal/regclient"
)

// Syncer pulls the Registry's snapshot every sync_interval and rebuilds
// the Router's table wholesale. It tolerates Registry unavailability by
// continuing to serve the last snapshot indefinitely — clients see stale
// routing, not outage (§4.3).
type Syncer struct {
	table    *Table
	client   *regclient.Client
	interval time.Duration
}

// NewSyncer builds a Syncer.
func NewSyncer(table *Table, client *regclient.Client, interval time.Duration) *Syncer {
	return &Syncer{table: table, client: client, interval: interval}
}

// Run ticks at s.interval, pulling and diffing the Registry snapshot,
// until ctx is canceled. The first pull happens immediately so the table
// isn't empty for a full interval after startup.
func (s *Syncer) Run(ctx context.Context) error {
	s.pull(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pull(ctx)
		}
	}
}

func (s *Syncer) pull(ctx context.Context) {
	records, err := s.client.List(ctx, regclient.ListFilter{Kind: "backend", HealthyOnly: true})
	if err != nil {
		log.Printf("[router] registry sync failed, keeping last snapshot: %v", err)
		metrics.SyncTotal.WithLabelValues("error").Inc()
		return
	}
	s.table.Rebuild(records)
	metrics.SyncTotal.WithLabelValues("ok").Inc()
}
