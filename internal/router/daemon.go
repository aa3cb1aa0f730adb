package router

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

// Daemon is the router runtime: routing table, syncer, local prober,
// proxy, HTTP server.
type Daemon struct {
	Config Config
	Table  *Table
	Server *Server

	syncer *Syncer
	prober *Prober
}

// New wires a Daemon from cfg.
func New(cfg Config) *Daemon {
	table := NewTable()
	proxy := NewProxy(cfg.ConnectTimeout.Get(), cfg.RequestDeadline.Get())
	srv := NewServer(table, proxy, cfg.MaxBodyPeekBytes)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	client := regclient.New(cfg.RegistryURL, cfg.ClientTimeout.Get())

	return &Daemon{
		Config: cfg,
		Table:  table,
		Server: srv,
		syncer: NewSyncer(table, client, cfg.SyncInterval.Get()),
		prober: NewProber(table, cfg.RouterProbeInterval.Get(), cfg.MaxRouterErrors),
	}
}

// Serve starts the HTTP listener and background loops, blocking until a
// shutdown signal arrives or ctx is canceled (§5).
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.Host, d.Config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than a fixed write timeout
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.syncer.Run(gctx) })
	g.Go(func() error { return d.prober.Run(gctx) })

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-gctx.Done():
			// A sibling goroutine errored and errgroup canceled gctx for
			// us; still must Shutdown or ListenAndServe blocks forever.
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[router] shutdown: %v", err)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		log.Printf("[router] serving on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	return g.Wait()
}
