package babysitter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
	"github.com/modelfleet/modelfleet/internal/metrics"
	"github.com/modelfleet/modelfleet/internal/regclient"
)

// errRestartBudgetExhausted is returned by Run when the backend has
// crash-looped past cfg.Babysitter.MaxRestarts, so the caller (the
// daemon's errgroup) tears the process down with a nonzero exit instead
// of hanging around supervising nothing.
var errRestartBudgetExhausted = errors.New("babysitter: restart budget exhausted")

// State is the supervised backend's position in the state machine (§4.2).
type State string

const (
	StateIdle            State = "idle"
	StateSpawning        State = "spawning"
	StateWaitingForReady State = "waiting_for_ready"
	StateRegistering     State = "registering"
	StateRunning         State = "running"
	StateExited          State = "exited"
	StateBackOff         State = "backoff"
	StateShuttingDown    State = "shutting_down"
	StateTerminal        State = "terminal"
)

// Supervisor owns exactly one managed backend process end-to-end: spawn,
// readiness, registration, heartbeat, restart (§4.2, §5).
type Supervisor struct {
	cfg    Config
	client *regclient.Client

	state        atomic.Value // State
	restarts     atomic.Int64
	registeredOK atomic.Bool

	mu              sync.Mutex
	lastHeartbeatAt time.Time
	child           *childProcess
	models          []string
}

// NewSupervisor builds a Supervisor from cfg, talking to the Registry via
// client.
func NewSupervisor(cfg Config, client *regclient.Client) *Supervisor {
	s := &Supervisor{cfg: cfg, client: client}
	s.state.Store(StateIdle)
	return s
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State { return s.state.Load().(State) }

// RestartsSoFar returns the number of restart transitions taken so far.
func (s *Supervisor) RestartsSoFar() int64 { return s.restarts.Load() }

// Registered reports whether the most recent registration attempt for
// both Records succeeded.
func (s *Supervisor) Registered() bool { return s.registeredOK.Load() }

// LastHeartbeatAt returns the time of the last successful heartbeat, or
// the zero time if none has happened yet.
func (s *Supervisor) LastHeartbeatAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeatAt
}

// ChildAlive reports whether a child process is currently running.
func (s *Supervisor) ChildAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}

// StderrTail returns the last bytes of the current (or most recent)
// child's stderr, for /info diagnostics.
func (s *Supervisor) StderrTail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil {
		return ""
	}
	return s.child.stderrTail()
}

// supervisorName and backendName are the two Record names this
// supervisor registers under — its own presence and the managed
// backend's, per §4.2's "two register calls."
func (s *Supervisor) supervisorName() string { return s.cfg.Name + "-supervisor" }
func (s *Supervisor) backendName() string    { return s.cfg.Name }

// Run drives the state machine until ctx is canceled (SIGTERM/SIGINT at
// the daemon level), at which point it deregisters both Records
// best-effort and shuts the child down gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown()

	restarts := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		s.state.Store(StateSpawning)
		child, err := spawn(s.cfg.Backend)
		if err != nil {
			log.Printf("[babysitter] spawn failed: %v", err)
			if !s.backoffOrStop(ctx, &restarts) {
				return s.stopErr()
			}
			continue
		}
		s.mu.Lock()
		s.child = child
		s.mu.Unlock()
		metrics.ChildState.Set(1)

		s.state.Store(StateWaitingForReady)
		models, err := waitForReady(ctx, s.cfg.Port, s.cfg.Babysitter.ReadinessPath,
			s.cfg.Babysitter.ReadinessPollInterval.Get(), s.cfg.Babysitter.ReadinessPollTimeout.Get(), child)
		if err != nil {
			log.Printf("[babysitter] readiness failed: %v", err)
			child.shutdown(s.cfg.Babysitter.ShutdownGrace.Get())
			s.clearChild()
			if !s.backoffOrStop(ctx, &restarts) {
				return s.stopErr()
			}
			continue
		}
		s.mu.Lock()
		s.models = models
		s.mu.Unlock()

		s.state.Store(StateRegistering)
		s.registerBoth(ctx)

		s.state.Store(StateRunning)
		if !s.runUntilExit(ctx, child) {
			return nil
		}

		s.state.Store(StateExited)
		s.clearChild()
		if !s.backoffOrStop(ctx, &restarts) {
			return s.stopErr()
		}
	}
}

// stopErr is called right after backoffOrStop returns false. It
// distinguishes an ordinary ctx-cancel shutdown (nil) from genuine
// restart-budget exhaustion (non-nil), so the daemon's errgroup knows
// whether to tear the HTTP server down with a nonzero exit (§4.2:
// "Terminal with failure").
func (s *Supervisor) stopErr() error {
	if s.State() == StateTerminal {
		return fmt.Errorf("%w after %d restarts", errRestartBudgetExhausted, s.RestartsSoFar())
	}
	return nil
}

// runUntilExit blocks sending heartbeats until the child exits or ctx is
// canceled. Returns false if ctx was canceled (caller should stop),
// true if the child exited on its own (caller should restart).
func (s *Supervisor) runUntilExit(ctx context.Context, child *childProcess) bool {
	ticker := time.NewTicker(s.cfg.Babysitter.HeartbeatInterval.Get())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-child.wait():
			if err := child.exitErr(); err != nil {
				log.Printf("[babysitter] backend %s exited: %v", s.cfg.Name, err)
			} else {
				log.Printf("[babysitter] backend %s exited cleanly", s.cfg.Name)
			}
			return true
		case <-ticker.C:
			s.heartbeatBoth(ctx)
		}
	}
}

// backoffOrStop sleeps restart_delay and reports whether the caller
// should keep going (false means either ctx was canceled or the restart
// budget is exhausted, i.e. Terminal).
func (s *Supervisor) backoffOrStop(ctx context.Context, restarts *int) bool {
	*restarts++
	s.restarts.Add(1)
	metrics.RestartsTotal.Inc()

	if *restarts > s.cfg.Babysitter.MaxRestarts {
		log.Printf("[babysitter] restart budget exhausted (%d), giving up", s.cfg.Babysitter.MaxRestarts)
		s.state.Store(StateTerminal)
		return false
	}

	s.state.Store(StateBackOff)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.Babysitter.RestartDelay.Get()):
		return true
	}
}

func (s *Supervisor) clearChild() {
	s.mu.Lock()
	s.child = nil
	s.mu.Unlock()
	metrics.ChildState.Set(0)
}

// registerBoth registers the supervisor's own presence and the managed
// backend, per §4.2's two-record contract. A conflict (a live Record
// already holds the name) is treated as success; other failures are retried by regclient's bounded
// backoff and, if still failing, left for the heartbeat loop to retry.
func (s *Supervisor) registerBoth(ctx context.Context) {
	host := s.cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}

	_, err := s.client.Register(ctx, regclient.Record{
		Name: s.supervisorName(), Kind: "supervisor",
		Host: host, Port: s.cfg.SupervisorPort(),
		Meta: regclient.Metadata{Models: nil},
	})
	supOK := registerSucceeded(err)
	metrics.HeartbeatsTotal.WithLabelValues("supervisor", outcomeLabel(supOK)).Inc()

	s.mu.Lock()
	models := append([]string(nil), s.models...)
	s.mu.Unlock()

	_, err = s.client.Register(ctx, regclient.Record{
		Name: s.backendName(), Kind: "backend",
		Host: host, Port: s.cfg.Port,
		Meta: regclient.Metadata{Models: models},
	})
	backendOK := registerSucceeded(err)
	metrics.HeartbeatsTotal.WithLabelValues("backend", outcomeLabel(backendOK)).Inc()

	s.registeredOK.Store(supOK && backendOK)
}

// registerSucceeded treats a conflict (the name is already registered to
// a live Record) as success, per §4.2.
func registerSucceeded(err error) bool {
	return err == nil || errors.Is(err, fleeterr.Conflict)
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// heartbeatBoth sends a heartbeat for each Record; a not_found response
// triggers a fallback re-registration (§4.2).
func (s *Supervisor) heartbeatBoth(ctx context.Context) {
	if _, err := s.client.Heartbeat(ctx, s.supervisorName(), ""); err != nil {
		if errors.Is(err, fleeterr.NotFound) {
			s.registerBoth(ctx)
		}
		metrics.HeartbeatsTotal.WithLabelValues("supervisor", "error").Inc()
	} else {
		s.mu.Lock()
		s.lastHeartbeatAt = time.Now()
		s.mu.Unlock()
		metrics.HeartbeatsTotal.WithLabelValues("supervisor", "ok").Inc()
	}

	if _, err := s.client.Heartbeat(ctx, s.backendName(), ""); err != nil {
		if errors.Is(err, fleeterr.NotFound) {
			s.registerBoth(ctx)
		}
		metrics.HeartbeatsTotal.WithLabelValues("backend", "error").Inc()
	} else {
		metrics.HeartbeatsTotal.WithLabelValues("backend", "ok").Inc()
	}
}

// shutdown deregisters both Records best-effort and kills the child with
// a grace period, per §4.2's ShuttingDown contract.
func (s *Supervisor) shutdown() {
	s.state.Store(StateShuttingDown)

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Deregister(deregisterCtx, s.supervisorName()); err != nil {
		log.Printf("[babysitter] deregister supervisor: %v", err)
	}
	if err := s.client.Deregister(deregisterCtx, s.backendName()); err != nil {
		log.Printf("[babysitter] deregister backend: %v", err)
	}

	s.mu.Lock()
	child := s.child
	s.mu.Unlock()
	if child != nil {
		child.shutdown(s.cfg.Babysitter.ShutdownGrace.Get())
		s.clearChild()
	}
	s.state.Store(StateTerminal)
}
