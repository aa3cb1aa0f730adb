package babysitter

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/internal/regclient"
	"github.com/modelfleet/modelfleet/internal/registry"
)

func newTestRegistry(t *testing.T) (*httptest.Server, *registry.Directory) {
	t.Helper()
	dir := registry.NewDirectory()
	srv := httptest.NewServer(registry.NewServer(dir).Handler())
	t.Cleanup(srv.Close)
	return srv, dir
}

func testSupervisor(registryURL string) *Supervisor {
	cfg := DefaultConfig()
	cfg.Name = "backend-1"
	cfg.Host = "10.0.0.5"
	cfg.Port = 9001
	cfg.RegistryURL = registryURL
	client := regclient.New(registryURL, time.Second)
	return NewSupervisor(cfg, client)
}

func TestRegisterBothCreatesSupervisorAndBackendRecords(t *testing.T) {
	srv, dir := newTestRegistry(t)
	_ = srv
	s := testSupervisor(srv.URL)
	s.models = []string{"m-a", "m-b"}

	s.registerBoth(context.Background())

	if !s.Registered() {
		t.Fatal("Registered() = false, want true after successful register")
	}

	backend, err := dir.Get("backend-1")
	if err != nil {
		t.Fatalf("Get(backend-1) error: %v", err)
	}
	if backend.Kind != registry.KindBackend || len(backend.Meta.Models) != 2 {
		t.Fatalf("backend record = %+v, want kind=backend models=[m-a m-b]", backend)
	}

	sup, err := dir.Get("backend-1-supervisor")
	if err != nil {
		t.Fatalf("Get(backend-1-supervisor) error: %v", err)
	}
	if sup.Kind != registry.KindSupervisor || len(sup.Meta.Models) != 0 {
		t.Fatalf("supervisor record = %+v, want kind=supervisor with no models", sup)
	}
}

func TestRegisterBothTreatsConflictAsSuccess(t *testing.T) {
	srv, dir := newTestRegistry(t)
	s := testSupervisor(srv.URL)

	if _, err := dir.Register(registry.Record{Name: "backend-1", Kind: registry.KindBackend, Host: "x", Port: 1}); err != nil {
		t.Fatalf("seed register: %v", err)
	}
	if _, err := dir.Register(registry.Record{Name: "backend-1-supervisor", Kind: registry.KindSupervisor, Host: "x", Port: 2}); err != nil {
		t.Fatalf("seed register: %v", err)
	}

	s.registerBoth(context.Background())

	if !s.Registered() {
		t.Fatal("Registered() = false, want true (conflict is treated as already-registered)")
	}
}

func TestHeartbeatBothFallsBackToRegisterOnNotFound(t *testing.T) {
	srv, dir := newTestRegistry(t)
	s := testSupervisor(srv.URL)
	s.models = []string{"m-a"}

	s.heartbeatBoth(context.Background())

	if _, err := dir.Get("backend-1"); err != nil {
		t.Fatalf("expected heartbeat-triggered re-registration, Get error: %v", err)
	}
}

func TestShutdownDeregistersBothRecords(t *testing.T) {
	srv, dir := newTestRegistry(t)
	s := testSupervisor(srv.URL)
	s.models = []string{"m-a"}
	s.registerBoth(context.Background())

	s.shutdown()

	if _, err := dir.Get("backend-1"); err == nil {
		t.Fatal("backend record still present after shutdown, want deregistered")
	}
	if _, err := dir.Get("backend-1-supervisor"); err == nil {
		t.Fatal("supervisor record still present after shutdown, want deregistered")
	}
	if s.State() != StateTerminal {
		t.Fatalf("State() = %v, want %v", s.State(), StateTerminal)
	}
}

func TestRunReturnsErrorOnRestartBudgetExhaustion(t *testing.T) {
	srv, _ := newTestRegistry(t)
	cfg := DefaultConfig()
	cfg.Name = "broken"
	cfg.RegistryURL = srv.URL
	cfg.Babysitter.MaxRestarts = 1
	cfg.Babysitter.RestartDelay = registry.Duration(time.Millisecond)
	cfg.Backend = BackendConfig{Type: "command", Command: "/no/such/binary-xyz"}
	client := regclient.New(srv.URL, time.Second)
	s := NewSupervisor(cfg, client)

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want non-nil on restart budget exhaustion")
	}
	if s.State() != StateTerminal {
		t.Fatalf("State() = %v, want %v", s.State(), StateTerminal)
	}
}

func TestRunReturnsNilOnContextCancel(t *testing.T) {
	srv, _ := newTestRegistry(t)
	cfg := DefaultConfig()
	cfg.Name = "patient"
	cfg.RegistryURL = srv.URL
	cfg.Babysitter.MaxRestarts = 100
	cfg.Babysitter.RestartDelay = registry.Duration(time.Millisecond)
	cfg.Backend = BackendConfig{Type: "command", Command: "/no/such/binary-xyz"}
	client := regclient.New(srv.URL, time.Second)
	s := NewSupervisor(cfg, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on ordinary ctx-cancel shutdown", err)
	}
}

func TestBackoffOrStopExhaustsRestartBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "b"
	cfg.Babysitter.MaxRestarts = 1
	cfg.Babysitter.RestartDelay = registry.Duration(time.Millisecond)
	s := NewSupervisor(cfg, regclient.New("http://127.0.0.1:1", time.Millisecond))

	restarts := 0
	if !s.backoffOrStop(context.Background(), &restarts) {
		t.Fatal("backoffOrStop() = false on first restart, want true")
	}
	if s.backoffOrStop(context.Background(), &restarts) {
		t.Fatal("backoffOrStop() = true after exhausting budget, want false")
	}
	if s.State() != StateTerminal {
		t.Fatalf("State() = %v, want %v", s.State(), StateTerminal)
	}
}
