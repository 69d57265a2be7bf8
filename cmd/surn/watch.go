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

	"github.com/jward/surn/internal/metrics"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var flagMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [path]...",
	Short: "Reload mapping definitions and extension scripts as they change",
	Long:  "Registers the configured languages, then re-registers any mapping definition or extension script under the given paths (default: the configured ones) when it changes. Runs until interrupted.",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := args
	if len(paths) == 0 {
		paths = watchPaths(cfg)
	}
	if len(paths) == 0 {
		return outputError("watch", errors.New("nothing to watch: pass paths or configure mappings, extensions or polyfill"))
	}

	col := metrics.NewCollector(nil)
	e, err := newEngine(ctx, col)
	if err != nil {
		return outputError("watch", err)
	}
	defer e.Close()

	errCh := make(chan error, 1)
	var srv *http.Server
	if flagMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", col.Handler())
		srv = &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("serving metrics", "address", flagMetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		errCh <- e.Watch(ctx, paths...)
	}()
	logger.Info("watching", "paths", paths, "languages", len(e.Languages()))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return outputError("watch", runErr)
	}
	return nil
}
