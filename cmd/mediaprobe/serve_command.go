package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediaprobe/internal/api"
	"mediaprobe/pkg/config"
	"mediaprobe/pkg/db"
	"mediaprobe/pkg/db/maintenance"
	"mediaprobe/pkg/duration"
	"mediaprobe/pkg/logging"
	"mediaprobe/pkg/observe"
	"mediaprobe/pkg/request"
	"mediaprobe/pkg/startup"
	"mediaprobe/pkg/store"
	"mediaprobe/pkg/tracker"
	"mediaprobe/pkg/version"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the duration API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, *configPath, nil)
		},
	}
}

// runServe runs the API until ctx is cancelled, a signal arrives or a
// shutdown is requested. ready, if non-nil, receives the listen address.
func runServe(ctx context.Context, configPath string, ready chan<- string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("mediaprobe started", "version", version.Version)

	dbConn, st, err := initDB(cfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, dbConn, maintenance.Options{
		CacheTTL:    time.Duration(cfg.Probe.CacheTTL),
		HistoryKeep: cfg.DB.HistoryKeep,
	}); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(prov.MeterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	prober, err := duration.NewProber(cfg.Probe, slog.Default())
	if err != nil {
		return err
	}

	// Startup Checks
	checks := []startup.Check{
		startup.TempDirWritable(cfg.Probe.TempDir),
		startup.DatabaseReachable(dbConn),
		startup.DecoderPresent(prober.HasDecoder()),
	}
	results := startup.Run(ctx, checks, startup.DefaultTimeout)
	if err := startup.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	tr := tracker.New()
	svc := duration.New(prober, cfg.Probe,
		duration.WithCache(st),
		duration.WithHistory(st),
		duration.WithTracker(tr),
		duration.WithMetrics(metrics),
		duration.WithLogger(slog.Default()),
	)
	fetcher := request.New(cfg.Request, svc.MaxBytes(), tr)

	var metricsH http.Handler
	if cfg.Metrics.Enabled {
		metricsH = prov.Handler
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() {
		select {
		case quit <- syscall.SIGTERM:
		default:
		}
	}

	srv := api.NewServer(cfg.Server.Address,
		api.NewMediaHandler(svc, fetcher),
		api.NewStatsHandler(tr),
		metricsH,
		metrics,
		shutdownFunc,
	)
	return runServerLifecycle(ctx, srv, quit, ready)
}

func initDB(cfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, ready chan<- string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	slog.Info("Starting server", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
