package registry

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRecord(name string) Record {
	return Record{
		Name: name,
		Kind: KindBackend,
		Host: "127.0.0.1",
		Port: 6001,
		Meta: Metadata{Models: []string{"m-a"}},
	}
}

func TestDirectoryRegisterGetRoundTrip(t *testing.T) {
	dir := NewDirectory()
	stored, err := dir.Register(newRecord("s1"))
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if stored.Status != StatusStarting {
		t.Fatalf("Status = %q, want starting", stored.Status)
	}

	got, err := dir.Get("s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "s1" || got.Host != "127.0.0.1" || got.Port != 6001 {
		t.Fatalf("Get() = %+v, fields do not match registered record", got)
	}
	if len(got.Meta.Models) != 1 || got.Meta.Models[0] != "m-a" {
		t.Fatalf("Get() models = %v", got.Meta.Models)
	}
}

func TestDirectoryRegisterDuplicateNameConflicts(t *testing.T) {
	dir := NewDirectory()
	if _, err := dir.Register(newRecord("s1")); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	_, err := dir.Register(newRecord("s1"))
	if !errors.Is(err, fleeterr.Conflict) {
		t.Fatalf("second Register() error = %v, want conflict", err)
	}
}

func TestDirectoryRegisterReplacesGoneRecord(t *testing.T) {
	dir := NewDirectory()
	if _, err := dir.Register(newRecord("s1")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := dir.Deregister("s1"); err != nil {
		t.Fatalf("Deregister() error: %v", err)
	}
	if _, err := dir.Register(newRecord("s1")); err != nil {
		t.Fatalf("re-Register() after deregister error: %v", err)
	}
}

func TestDirectoryDefaultWeightIsOne(t *testing.T) {
	dir := NewDirectory()
	rec := newRecord("s1")
	rec.Weight = 0
	stored, err := dir.Register(rec)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if stored.Weight != 1 {
		t.Fatalf("Weight = %d, want default 1", stored.Weight)
	}
}

func TestDirectoryRejectsSupervisorWithModels(t *testing.T) {
	dir := NewDirectory()
	rec := Record{Name: "sup1", Kind: KindSupervisor, Host: "127.0.0.1", Port: 6002,
		Meta: Metadata{Models: []string{"m-a"}}}
	_, err := dir.Register(rec)
	if !errors.Is(err, fleeterr.BadRequest) {
		t.Fatalf("Register() error = %v, want bad_request", err)
	}
}

func TestDirectoryHeartbeatUnknownNotFound(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.Heartbeat("nope", "")
	if !errors.Is(err, fleeterr.NotFound) {
		t.Fatalf("Heartbeat() error = %v, want not_found", err)
	}
}

func TestDirectoryDeregisterIdempotent(t *testing.T) {
	dir := NewDirectory()
	if _, err := dir.Register(newRecord("s1")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := dir.Deregister("s1"); err != nil {
		t.Fatalf("first Deregister() error: %v", err)
	}
	err := dir.Deregister("s1")
	if !errors.Is(err, fleeterr.NotFound) {
		t.Fatalf("second Deregister() error = %v, want not_found", err)
	}
	if _, err := dir.Get("s1"); !errors.Is(err, fleeterr.NotFound) {
		t.Fatalf("Get() after deregister = %v, want not_found", err)
	}
}

func TestDirectoryListFiltersByModel(t *testing.T) {
	dir := NewDirectory()
	mustRegister(t, dir, Record{Name: "s1", Kind: KindBackend, Host: "h", Port: 1, Meta: Metadata{Models: []string{"m-a"}}})
	mustRegister(t, dir, Record{Name: "s2", Kind: KindBackend, Host: "h", Port: 2, Meta: Metadata{Models: []string{"m-b"}}})

	got := dir.List(ListFilter{Model: "m-a"})
	if len(got) != 1 || got[0].Name != "s1" {
		t.Fatalf("List(model=m-a) = %+v", got)
	}
}

func TestDirectoryListInsertionOrder(t *testing.T) {
	dir := NewDirectory()
	mustRegister(t, dir, newRecord("s2"))
	mustRegister(t, dir, newRecord("s1"))
	mustRegister(t, dir, newRecord("s3"))

	got := dir.List(ListFilter{})
	if len(got) != 3 || got[0].Name != "s2" || got[1].Name != "s1" || got[2].Name != "s3" {
		t.Fatalf("List() order = %v, want insertion order s2,s1,s3", names(got))
	}
}

func TestDirectoryProbeResultStateMachine(t *testing.T) {
	dir := NewDirectory()
	mustRegister(t, dir, newRecord("s1"))

	dir.RecordProbeResult("s1", true, 3)
	rec, _ := dir.Get("s1")
	if rec.Status != StatusHealthy {
		t.Fatalf("after success Status = %q, want healthy", rec.Status)
	}

	dir.RecordProbeResult("s1", false, 3)
	dir.RecordProbeResult("s1", false, 3)
	rec, _ = dir.Get("s1")
	if rec.Status != StatusHealthy {
		t.Fatalf("after 2 failures Status = %q, want still healthy (max_errors=3)", rec.Status)
	}

	dir.RecordProbeResult("s1", false, 3)
	rec, _ = dir.Get("s1")
	if rec.Status != StatusUnhealthy {
		t.Fatalf("after 3 failures Status = %q, want unhealthy", rec.Status)
	}

	dir.RecordProbeResult("s1", true, 3)
	rec, _ = dir.Get("s1")
	if rec.Status != StatusHealthy || rec.ConsecutiveProbeErrors != 0 {
		t.Fatalf("after recovery Status = %q errors=%d, want healthy/0", rec.Status, rec.ConsecutiveProbeErrors)
	}
}

func TestDirectorySweepEvictsStaleUnhealthy(t *testing.T) {
	dir := NewDirectory()
	mustRegister(t, dir, newRecord("s1"))
	dir.RecordProbeResult("s1", false, 1) // one failure, max_errors=1 -> unhealthy

	rec := dir.records["s1"]
	rec.LastHeartbeatAt = time.Now().Add(-2 * time.Minute)

	evicted := dir.Sweep(time.Minute, 1)
	if len(evicted) != 1 || evicted[0] != "s1" {
		t.Fatalf("Sweep() evicted = %v, want [s1]", evicted)
	}
	if _, err := dir.Get("s1"); !errors.Is(err, fleeterr.NotFound) {
		t.Fatalf("Get() after sweep = %v, want not_found", err)
	}
}

func TestDirectorySweepKeepsFreshHeartbeat(t *testing.T) {
	dir := NewDirectory()
	mustRegister(t, dir, newRecord("s1"))
	dir.RecordProbeResult("s1", false, 1)

	evicted := dir.Sweep(time.Minute, 1)
	if len(evicted) != 0 {
		t.Fatalf("Sweep() evicted = %v, want none (heartbeat is fresh)", evicted)
	}
}

func mustRegister(t *testing.T, dir *Directory, rec Record) {
	t.Helper()
	if _, err := dir.Register(rec); err != nil {
		t.Fatalf("Register(%s) error: %v", rec.Name, err)
	}
}

func names(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}
