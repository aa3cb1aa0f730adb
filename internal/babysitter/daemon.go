package babysitter

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modelfleet/modelfleet/internal/regclient"
)

// Daemon is the babysitter runtime: one Supervisor plus its tiny HTTP
// surface (§4.2, §4.3).
type Daemon struct {
	Config     Config
	Supervisor *Supervisor
	Server     *Server
}

// New wires a Daemon from cfg.
func New(cfg Config) *Daemon {
	client := regclient.New(cfg.RegistryURL, 5*time.Second)
	supervisor := NewSupervisor(cfg, client)
	srv := NewServer(cfg, supervisor)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	return &Daemon{Config: cfg, Supervisor: supervisor, Server: srv}
}

// Serve starts the HTTP listener and the supervisor loop, blocking until a
// shutdown signal arrives or ctx is canceled. Shutdown order matters: the
// supervisor's own ctx cancellation drives its deregister-then-kill
// sequence (§4.2's ShuttingDown state), and the HTTP server is shut down
// alongside it so /health stops answering once the backend is going away.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := fmt.Sprintf(":%d", d.Config.SupervisorPort())
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.Supervisor.Run(gctx) })

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-gctx.Done():
			// Either a signal arrived or a sibling goroutine (most often
			// the supervisor, on restart-budget exhaustion) errored and
			// errgroup canceled gctx for us. Either way the HTTP server
			// still needs a real Shutdown call or ListenAndServe below
			// blocks forever and g.Wait() never returns.
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[babysitter] shutdown: %v", err)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		log.Printf("[babysitter] serving on http://0.0.0.0%s (managing %s on port %d)", addr, d.Config.Name, d.Config.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	return g.Wait()
}
