// cabinetd is the server process: it opens a registry rooted at a data
// directory, serves it over HTTP, and runs a background flush ticker
// so a crash never loses more than one tick's worth of writes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cabinetdb/cabinet/internal/config"
	"github.com/cabinetdb/cabinet/internal/registry"
	"github.com/cabinetdb/cabinet/internal/rpc"
	"github.com/cabinetdb/cabinet/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cabinetd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	lock, err := acquirePIDLock(cfg.DataRoot)
	if err != nil {
		return err
	}
	defer lock.release()

	reg, err := registry.New(cfg.DataRoot, log)
	if err != nil {
		return err
	}

	var rec *trace.Recorder
	if cfg.TracePath != "" {
		rec, err = trace.Open(cfg.TracePath)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort),
		Handler: rpc.New(reg, log, rec).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopFlusher := startFlushTicker(ctx, reg, log, cfg.FlushIntervalSeconds)
	defer stopFlusher()

	errCh := make(chan error, 1)
	go func() {
		log.Info("cabinetd listening", zap.String("addr", srv.Addr), zap.String("data_root", cfg.DataRoot))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}

	if err := reg.FlushAll(); err != nil {
		log.Warn("final flush error", zap.Error(err))
	}
	return reg.CloseAll()
}

// startFlushTicker periodically flushes every open database. A zero
// interval disables it, returning a no-op stop function.
func startFlushTicker(ctx context.Context, reg *registry.Registry, log *zap.Logger, seconds int) func() {
	if seconds <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(time.Duration(seconds) * time.Second)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reg.FlushAll(); err != nil {
					log.Warn("periodic flush error", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
		<-done
	}
}

func newLogger(path string) (*zap.Logger, error) {
	if path == "" {
		return zap.NewProduction()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	return cfg.Build()
}
