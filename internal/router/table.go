package router

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/modelfleet/modelfleet/internal/regclient"
)

// backend is the router's local view of one registry Record: the
// registry-reported fields plus the router's own probe-derived health.
// The syncer only loads Records the registry reports healthy, so a
// backend is selectable only while both health views call it healthy.
type backend struct {
	Name   string
	Host   string
	Port   int
	Weight int
	Models []string

	mu              sync.RWMutex
	locallyHealthy  bool
	consecutiveErrs int

	requestCount uint64
	errorCount   uint64
}

// IncRequest records one dispatch to b.
func (b *backend) IncRequest() { atomic.AddUint64(&b.requestCount, 1) }

// IncError records one failed dispatch to b.
func (b *backend) IncError() { atomic.AddUint64(&b.errorCount, 1) }

// Stats returns b's name, request, and error counters.
func (b *backend) Stats() (name string, requests, errs uint64) {
	return b.Name, atomic.LoadUint64(&b.requestCount), atomic.LoadUint64(&b.errorCount)
}

func (b *backend) setHealthy(ok bool, maxErrors int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.consecutiveErrs = 0
		b.locallyHealthy = true
		return
	}
	b.consecutiveErrs++
	if b.consecutiveErrs >= maxErrors {
		b.locallyHealthy = false
	}
}

func (b *backend) healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locallyHealthy
}

func (b *backend) hasModel(model string) bool {
	for _, m := range b.Models {
		if m == model {
			return true
		}
	}
	return false
}

// cursor is a per-model weighted round-robin position: it advances
// through the model's candidate set in name-lexicographic order,
// spending `weight` consecutive picks on each candidate (§4.3).
type cursor struct {
	idx   uint64 // index into the sorted candidate slice
	spent uint64 // picks already spent on candidate at idx
}

// Table is the router's routing table: rebuilt wholesale on each sync,
// read-copy-update style, so serving goroutines never observe a
// half-updated table (§5).
type Table struct {
	mu        sync.RWMutex
	backends  map[string]*backend // by name
	cursors   map[string]*cursor  // by model id
	cursorsMu sync.Mutex
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		backends: make(map[string]*backend),
		cursors:  make(map[string]*cursor),
	}
}

// Rebuild replaces the table's backend set from a fresh registry snapshot,
// diffing by name: backends present in both keep their local health
// state; new backends start unhealthy until the router's own probe loop
// upgrades them; backends no longer present are dropped along with any
// per-model cursor that no longer has candidates.
func (t *Table) Rebuild(snapshot []regclient.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*backend, len(snapshot))
	for _, rec := range snapshot {
		if rec.Kind != "backend" || len(rec.Meta.Models) == 0 {
			continue
		}
		weight := rec.Weight
		if weight <= 0 {
			weight = 1
		}
		b := &backend{
			Name:   rec.Name,
			Host:   rec.Host,
			Port:   rec.Port,
			Weight: weight,
			Models: append([]string(nil), rec.Meta.Models...),
		}
		if existing, ok := t.backends[rec.Name]; ok {
			existing.mu.RLock()
			b.locallyHealthy = existing.locallyHealthy
			b.consecutiveErrs = existing.consecutiveErrs
			existing.mu.RUnlock()
			b.requestCount = atomic.LoadUint64(&existing.requestCount)
			b.errorCount = atomic.LoadUint64(&existing.errorCount)
		}
		next[rec.Name] = b
	}
	t.backends = next

	t.cursorsMu.Lock()
	for key := range t.cursors {
		model := key
		if model == "*" {
			model = "" // the catch-all cursor covers every healthy backend
		}
		if len(t.candidatesLocked(model)) == 0 {
			delete(t.cursors, key)
		}
	}
	t.cursorsMu.Unlock()
}

// MarkProbeResult records the router's own health-probe outcome for name.
func (t *Table) MarkProbeResult(name string, ok bool, maxErrors int) {
	t.mu.RLock()
	b, found := t.backends[name]
	t.mu.RUnlock()
	if !found {
		return
	}
	b.setHealthy(ok, maxErrors)
}

// Snapshot returns every backend currently known to the table, for the
// router's own probe loop to iterate without holding the table lock
// during I/O.
func (t *Table) Snapshot() []*backend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*backend, 0, len(t.backends))
	for _, b := range t.backends {
		out = append(out, b)
	}
	return out
}

// candidatesLocked returns the healthy backends serving model, in
// name-lexicographic order. Caller must hold t.mu (read or write).
func (t *Table) candidatesLocked(model string) []*backend {
	var out []*backend
	for _, b := range t.backends {
		if !b.healthy() {
			continue
		}
		if model == "" || b.hasModel(model) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Candidates returns the healthy backends serving model (or all healthy
// backends if model is empty, for the catch-all passthrough), sorted by
// name.
func (t *Table) Candidates(model string) []*backend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.candidatesLocked(model)
}

// Next picks the next backend for model under weighted round-robin,
// advancing the model's cursor atomically (§4.3, §5: "concurrent
// dispatches to the same model are serialized only for the cursor
// update"). Returns false if no healthy candidate exists.
func (t *Table) Next(model string) (*backend, bool) {
	candidates := t.Candidates(model)
	if len(candidates) == 0 {
		return nil, false
	}

	key := model
	if key == "" {
		key = "*"
	}

	t.cursorsMu.Lock()
	c, ok := t.cursors[key]
	if !ok {
		c = &cursor{}
		t.cursors[key] = c
	}
	t.cursorsMu.Unlock()

	for {
		idx := atomic.LoadUint64(&c.idx) % uint64(len(candidates))
		picked := candidates[idx]

		spent := atomic.AddUint64(&c.spent, 1)
		if spent >= uint64(picked.Weight) {
			atomic.StoreUint64(&c.spent, 0)
			atomic.AddUint64(&c.idx, 1)
		}
		return picked, true
	}
}

// All returns every known backend regardless of health, for /services
// and /stats reporting.
func (t *Table) All() []*backend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*backend, 0, len(t.backends))
	for _, b := range t.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
