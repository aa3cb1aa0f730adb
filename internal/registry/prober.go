package registry

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/modelfleet/modelfleet/internal/metrics"
)

// Prober actively health-checks every backend Record on probe_interval.
// supervisor Records are heartbeat-only and are never probed (§4.1).
type Prober struct {
	dir       *Directory
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	maxErrors int
}

// NewProber creates a Prober bound to dir.
func NewProber(dir *Directory, interval, timeout time.Duration, maxErrors int) *Prober {
	return &Prober{
		dir:       dir,
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		timeout:   timeout,
		maxErrors: maxErrors,
	}
}

// Run ticks every interval until ctx is canceled, probing each known
// backend's GET {host}:{port}/health. Each tick's probes run concurrently
// and failures are retried implicitly by the next tick — never surfaced.
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
	targets := p.dir.ProbeTargets()
	done := make(chan struct{}, len(targets))
	for _, rec := range targets {
		rec := rec
		go func() {
			defer func() { done <- struct{}{} }()
			p.probeOne(ctx, rec)
		}()
	}
	for range targets {
		<-done
	}
}

func (p *Prober) probeOne(ctx context.Context, rec Record) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	addr := "http://" + net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port)) + "/health"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr, nil)
	if err != nil {
		log.Printf("[registry] probe %s: build request: %v", rec.Name, err)
		return
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	metrics.ProbeLatency.Observe(time.Since(start).Seconds())

	ok := err == nil
	if resp != nil {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
		resp.Body.Close()
	}

	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	metrics.ProbesTotal.WithLabelValues(outcome).Inc()

	p.dir.RecordProbeResult(rec.Name, ok, p.maxErrors)
}
