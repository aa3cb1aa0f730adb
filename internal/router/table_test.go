package router

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/modelfleet/modelfleet/internal/regclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func rebuildHealthy(t *testing.T, table *Table, recs []regclient.Record) {
	t.Helper()
	table.Rebuild(recs)
	for _, r := range recs {
		table.MarkProbeResult(r.Name, true, 1)
	}
}

func TestTableNextRoundRobinEvenWeights(t *testing.T) {
	table := NewTable()
	rebuildHealthy(t, table, []regclient.Record{
		{Name: "a", Host: "h", Port: 1, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
		{Name: "b", Host: "h", Port: 2, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
	})

	var picks []string
	for i := 0; i < 4; i++ {
		b, ok := table.Next("m")
		if !ok {
			t.Fatalf("Next() returned no candidate at i=%d", i)
		}
		picks = append(picks, b.Name)
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picks, want)
		}
	}
}

func TestTableNextWeightedSpendsWeightBeforeAdvancing(t *testing.T) {
	table := NewTable()
	rebuildHealthy(t, table, []regclient.Record{
		{Name: "a", Host: "h", Port: 1, Weight: 2, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
		{Name: "b", Host: "h", Port: 2, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
	})

	var picks []string
	for i := 0; i < 3; i++ {
		b, _ := table.Next("m")
		picks = append(picks, b.Name)
	}
	want := []string{"a", "a", "b"}
	for i := range want {
		if picks[i] != want[i] {
			t.Fatalf("picks = %v, want %v", picks, want)
		}
	}
}

func TestTableNextNoHealthyCandidateReturnsFalse(t *testing.T) {
	table := NewTable()
	table.Rebuild([]regclient.Record{
		{Name: "a", Host: "h", Port: 1, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
	})
	// never marked healthy
	if _, ok := table.Next("m"); ok {
		t.Fatalf("Next() = ok, want false (no healthy candidate)")
	}
}

func TestTableRebuildDropsAbsentBackends(t *testing.T) {
	table := NewTable()
	rebuildHealthy(t, table, []regclient.Record{
		{Name: "a", Host: "h", Port: 1, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
	})
	table.Rebuild(nil)
	if _, ok := table.Next("m"); ok {
		t.Fatalf("Next() after rebuild-with-empty-snapshot = ok, want false")
	}
}

func TestTableRebuildPreservesLocalHealthAcrossSync(t *testing.T) {
	table := NewTable()
	recs := []regclient.Record{
		{Name: "a", Host: "h", Port: 1, Weight: 1, Meta: regclient.Metadata{Models: []string{"m"}}, Kind: "backend"},
	}
	rebuildHealthy(t, table, recs)

	table.Rebuild(recs) // sync again, same backend
	if _, ok := table.Next("m"); !ok {
		t.Fatalf("Next() after re-sync = not ok, want a still marked healthy")
	}
}

func TestTableIgnoresNonBackendAndModellessRecords(t *testing.T) {
	table := NewTable()
	table.Rebuild([]regclient.Record{
		{Name: "sup", Host: "h", Port: 1, Kind: "supervisor"},
		{Name: "b", Host: "h", Port: 2, Kind: "backend"}, // no models
	})
	if len(table.All()) != 0 {
		t.Fatalf("All() = %v, want empty", table.All())
	}
}
