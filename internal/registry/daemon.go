package registry

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
)

// Daemon is the registry runtime: directory, prober, cleaner, HTTP server.
type Daemon struct {
	Config Config
	Dir    *Directory
	Server *Server

	prober  *Prober
	cleaner *Cleaner
}

// New wires a Daemon from cfg.
func New(cfg Config) *Daemon {
	dir := NewDirectory()
	srv := NewServer(dir)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:  cfg,
		Dir:     dir,
		Server:  srv,
		prober:  NewProber(dir, cfg.ProbeInterval.Get(), cfg.ProbeTimeout.Get(), cfg.MaxErrors),
		cleaner: NewCleaner(dir, cfg.EvictionTimeout.Get(), cfg.MaxErrors, cfg.CleanupInterval.Get()),
	}
}

// Serve starts the HTTP listener and background loops, blocking until a
// shutdown signal arrives or ctx is canceled. Loops are coordinated with
// errgroup so the first failing loop's error is returned and every other
// loop is torn down (§5: "each component is a single process with an
// internal task scheduler").
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.Host, d.Config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.prober.Run(gctx) })
	g.Go(func() error { return d.cleaner.Run(gctx) })

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
			log.Printf("[registry] shutdown: %v", err)
		}
		cancel()
		return nil
	})

	g.Go(func() error {
		log.Printf("[registry] serving on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	return g.Wait()
}
