package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
	"github.com/modelfleet/modelfleet/internal/metrics"
)

// Directory is the registry's in-memory, mutex-guarded map of Service
// Records. register/heartbeat/deregister/list all serialize on mu for the
// transition itself; readers holding the lock observe a consistent
// snapshot of all Records (§5).
type Directory struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // insertion order, for list() ordering

	statsRequests uint64
	statsErrors   uint64
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{records: make(map[string]*Record)}
}

// Register creates a Record. Fails with fleeterr.Conflict if name already
// exists and the existing Record is not gone; a gone Record is replaced.
func (d *Directory) Register(rec Record) (Record, error) {
	if rec.Name == "" {
		return Record{}, fmt.Errorf("register: empty name: %w", fleeterr.BadRequest)
	}
	if rec.Weight <= 0 {
		rec.Weight = 1
	}
	if rec.Kind == KindSupervisor && len(rec.Meta.Models) > 0 {
		return Record{}, fmt.Errorf(
			"register %s: supervisor records must not advertise models: %w", rec.Name, fleeterr.BadRequest)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.records[rec.Name]; ok && existing.Status != StatusGone {
		return Record{}, fmt.Errorf("register %s: %w", rec.Name, fleeterr.Conflict)
	}

	now := time.Now().UTC()
	rec.Status = StatusStarting
	rec.LastHeartbeatAt = now
	if _, existed := d.records[rec.Name]; !existed {
		d.order = append(d.order, rec.Name)
	}
	rec.version = 1
	d.records[rec.Name] = &rec

	metrics.ServicesRegistered.WithLabelValues(string(rec.Kind)).Inc()
	return rec.Clone(), nil
}

// Heartbeat updates last_heartbeat_at for name. If statusHint contradicts
// the last probe result, the probe result wins but the hint is recorded
// on the record's extra metadata for diagnostics.
func (d *Directory) Heartbeat(name string, statusHint Status) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[name]
	if !ok || rec.Status == StatusGone {
		return Record{}, fmt.Errorf("heartbeat %s: %w", name, fleeterr.NotFound)
	}

	rec.LastHeartbeatAt = time.Now().UTC()
	if statusHint != "" && statusHint != rec.Status {
		if rec.Meta.Extra == nil {
			rec.Meta.Extra = make(map[string]string)
		}
		rec.Meta.Extra["last_heartbeat_hint"] = string(statusHint)
	}
	rec.version++
	return rec.Clone(), nil
}

// Deregister removes name's Record and cancels any pending probe for it.
// Idempotent: removing an absent name returns fleeterr.NotFound both times.
func (d *Directory) Deregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[name]
	if !ok {
		return fmt.Errorf("deregister %s: %w", name, fleeterr.NotFound)
	}
	delete(d.records, name)
	d.order = pruneOrder(d.order, d.records)
	metrics.ServicesRegistered.WithLabelValues(string(rec.Kind)).Dec()
	return nil
}

// Get returns a single Record or fleeterr.NotFound.
func (d *Directory) Get(name string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[name]
	if !ok {
		return Record{}, fmt.Errorf("get %s: %w", name, fleeterr.NotFound)
	}
	return rec.Clone(), nil
}

// ListFilter narrows List's result set.
type ListFilter struct {
	HealthyOnly bool
	Kind        Kind
	Model       string
}

// List returns a read-consistent snapshot in insertion order (§4.1: "callers
// must not rely on order for routing").
func (d *Directory) List(filter ListFilter) []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.order))
	for _, name := range d.order {
		rec, ok := d.records[name]
		if !ok {
			continue
		}
		if filter.HealthyOnly && rec.Status != StatusHealthy {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if filter.Model != "" && !rec.HasModel(filter.Model) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// Stats is the registry's aggregate counters (§4.1 stats()).
type Stats struct {
	Total     int            `json:"total"`
	ByKind    map[Kind]int   `json:"by_kind"`
	ByStatus  map[Status]int `json:"by_status"`
	Requests  uint64         `json:"requests"`
	Errors    uint64         `json:"errors"`
}

// Stats aggregates counters across the directory.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		ByKind:   make(map[Kind]int),
		ByStatus: make(map[Status]int),
		Requests: d.statsRequests,
		Errors:   d.statsErrors,
	}
	for _, rec := range d.records {
		s.Total++
		s.ByKind[rec.Kind]++
		s.ByStatus[rec.Status]++
	}
	return s
}

// IncRequests bumps the aggregate request counter (called by handlers).
func (d *Directory) IncRequests() {
	d.mu.Lock()
	d.statsRequests++
	d.mu.Unlock()
}

// IncErrors bumps the aggregate error counter.
func (d *Directory) IncErrors() {
	d.mu.Lock()
	d.statsErrors++
	d.mu.Unlock()
}

// ─── Probe-loop support ─────────────────────────────────────────────────────

// ProbeTargets returns a snapshot of every non-gone backend Record, for the
// active health probe loop to iterate without holding the lock during
// network I/O.
func (d *Directory) ProbeTargets() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.order))
	for _, name := range d.order {
		rec, ok := d.records[name]
		if !ok || rec.Status == StatusGone || rec.Kind != KindBackend {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// RecordProbeResult applies the outcome of a health probe to name's Record,
// implementing the starting/healthy/unhealthy state machine of §4.1. A
// no-op if the record has since been deregistered.
func (d *Directory) RecordProbeResult(name string, ok bool, maxErrors int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, present := d.records[name]
	if !present || rec.Status == StatusGone {
		return
	}
	rec.LastProbeAt = time.Now().UTC()
	if ok {
		rec.ConsecutiveProbeErrors = 0
		rec.Status = StatusHealthy
	} else {
		rec.ConsecutiveProbeErrors++
		if rec.ConsecutiveProbeErrors >= maxErrors {
			rec.Status = StatusUnhealthy
		}
	}
	rec.version++
}

// Sweep evicts Records whose heartbeat and active probe have both failed
// for longer than evictionTimeout (I4), removing them from the directory.
// Returns the names evicted.
func (d *Directory) Sweep(evictionTimeout time.Duration, maxErrors int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UTC()
	var evicted []string
	for name, rec := range d.records {
		if rec.Status == StatusGone {
			delete(d.records, name)
			metrics.ServicesRegistered.WithLabelValues(string(rec.Kind)).Dec()
			continue
		}
		stale := now.Sub(rec.LastHeartbeatAt) > evictionTimeout
		if stale && rec.ConsecutiveProbeErrors >= maxErrors {
			delete(d.records, name)
			metrics.ServicesRegistered.WithLabelValues(string(rec.Kind)).Dec()
			evicted = append(evicted, name)
		}
	}
	if len(evicted) > 0 {
		d.order = pruneOrder(d.order, d.records)
		sort.Strings(evicted)
	}
	return evicted
}

func pruneOrder(order []string, records map[string]*Record) []string {
	out := order[:0:0]
	for _, name := range order {
		if _, ok := records[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
