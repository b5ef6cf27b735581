package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/benaskins/credstore/internal/api"
	"github.com/benaskins/credstore/internal/config"
	"github.com/benaskins/credstore/internal/dispatch"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the credstore daemon",
	Long:  "Serve secret store operations over a Unix socket. Each request runs as one dispatcher task.",
	RunE:  runDaemon,
}

var apiAddr string

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := slog.With("component", "daemon")
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}

	store, closeStore, err := openAuditedStore("daemon")
	if err != nil {
		return fmt.Errorf("opening secret store: %w", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := dispatch.New(store,
		dispatch.WithWorkers(cfg.Workers),
		dispatch.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
	)
	defer d.Close()

	socketPath := defaultSocketPath()
	// Remove stale socket
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(d, reg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serve(srv.ListenUnix(socketPath)) })
	if apiAddr != "" {
		g.Go(func() error { return serve(srv.ListenTCP(apiAddr)) })
	}
	g.Go(func() error {
		err := config.Watch(ctx, configPath, func(c *config.Config) { applyReload(d, c) })
		if err != nil {
			logger.Warn("config watch disabled", "path", configPath, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("credstore daemon ready", "socket", socketPath, "backend", cfg.Backend)

	err = g.Wait()
	os.Remove(socketPath)
	logger.Info("credstore daemon stopped")
	return err
}

// applyReload applies the settings that can change without a restart:
// rate_limit, rate_burst and log_level.
func applyReload(d *dispatch.Dispatcher, c *config.Config) {
	d.SetRateLimit(c.RateLimit, c.RateBurst)
	if level, err := config.ParseLevel(c.LogLevel); err == nil {
		levelVar.Set(level)
	}
}

// serve treats a graceful shutdown as a clean exit.
func serve(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
