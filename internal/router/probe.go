package router

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/modelfleet/modelfleet/internal/metrics"
)

// Prober is the Router's own local health-probe loop, run independently
// of the Registry's health view per §4.3: a backend that fails
// max_router_errors consecutive probes is excluded from selection
// locally, even while the Registry still reports it healthy.
type Prober struct {
	table     *Table
	client    *http.Client
	interval  time.Duration
	maxErrors int
}

// NewProber builds a Prober over table.
func NewProber(table *Table, interval time.Duration, maxErrors int) *Prober {
	return &Prober{
		table:     table,
		client:    &http.Client{Timeout: 5 * time.Second},
		interval:  interval,
		maxErrors: maxErrors,
	}
}

// Run ticks at p.interval, probing every known backend, until ctx is
// canceled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	backends := p.table.Snapshot()
	done := make(chan struct{}, len(backends))
	for _, b := range backends {
		b := b
		go func() {
			defer func() { done <- struct{}{} }()
			p.probeOne(ctx, b)
		}()
	}
	for range backends {
		<-done
	}
}

func (p *Prober) probeOne(ctx context.Context, b *backend) {
	probeCtx, cancel := context.WithTimeout(ctx, p.client.Timeout)
	defer cancel()

	addr := net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		p.table.MarkProbeResult(b.Name, false, p.maxErrors)
		return
	}

	resp, err := p.client.Do(req)
	ok := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		resp.Body.Close()
	}

	metrics.BackendHealth.WithLabelValues(b.Name).Set(boolToFloat(ok))
	p.table.MarkProbeResult(b.Name, ok, p.maxErrors)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
