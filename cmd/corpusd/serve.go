package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/corpusd/internal/api"
	"github.com/MikeSquared-Agency/corpusd/internal/corpus"
	"github.com/MikeSquared-Agency/corpusd/internal/hermes"
	"github.com/MikeSquared-Agency/corpusd/internal/metrics"
	"github.com/MikeSquared-Agency/corpusd/internal/processor"
	"github.com/MikeSquared-Agency/corpusd/internal/socket"
	"github.com/MikeSquared-Agency/corpusd/internal/store"
	"github.com/MikeSquared-Agency/corpusd/internal/watcher"
	"github.com/MikeSquared-Agency/corpusd/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the corpus over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from PORT)")

	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	conv := a.newConverter(m)
	scanner := corpus.NewScanner(cfg.Root, conv, logger)

	// Interfaces stay nil unless the backing service is configured.
	var (
		snapshots processor.SnapshotStore
		latest    api.Snapshots
		publisher processor.Publisher
	)

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		snapshots, latest = db, db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, snapshots disabled")
	}

	var bus *hermes.Client
	if cfg.NatsURL != "" {
		var err error
		bus, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer bus.Close()
		publisher = bus
		if !bus.Connected() {
			logger.Warn("nats not reachable yet, events will flow once it connects")
		}
	} else {
		logger.Warn("NATS_URL not set, scan events disabled")
	}

	proc := processor.New(scanner, snapshots, publisher, m, logger)
	if bus != nil {
		if err := bus.Subscribe(hermes.SubjectScanRequested, proc.HandleScanRequested); err != nil {
			return fmt.Errorf("subscribe %s: %w", hermes.SubjectScanRequested, err)
		}
	}

	hub := socket.NewHub(proc, conv, cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	w, err := watcher.New(cfg.Root, cfg.WatchDebounce, func(path string) {
		hub.NotifyFileChanged(path)
		proc.NotifyFileChanged(path)
	}, logger)
	switch {
	case errors.Is(err, watcher.ErrRootMissing):
		logger.Warn("corpus root not found, file watching disabled; are you in a project repository?", "root", cfg.Root)
	case err != nil:
		logger.Error("failed to start watcher", "root", cfg.Root, "error", err)
	default:
		w.Start(ctx)
		defer w.Stop()
		hub.SetWatching(true)
	}

	srv := api.NewServer(api.Options{
		Port:           cfg.Port,
		TLSCert:        cfg.TLSCert,
		TLSKey:         cfg.TLSKey,
		AllowedOrigins: cfg.AllowedOrigins,
		Scanner:        proc,
		Converter:      conv,
		Workspace:      workspace.New(cfg.Root),
		Snapshots:      latest,
		Socket:         hub,
		Gatherer:       reg,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("corpusd ready",
		"port", cfg.Port,
		"tls", cfg.TLS(),
		"root", cfg.Root,
		"converter", conv.Binary(),
		"snapshots", latest != nil,
		"events", bus != nil,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("port %d is already in use, is another corpusd running? %w", cfg.Port, err)
		}
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	return nil
}
