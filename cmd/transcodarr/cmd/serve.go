package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rcoury/transcodarr/internal/config"
	"github.com/rcoury/transcodarr/internal/database"
	"github.com/rcoury/transcodarr/internal/engine"
	"github.com/rcoury/transcodarr/internal/fetch"
	internalhttp "github.com/rcoury/transcodarr/internal/http"
	"github.com/rcoury/transcodarr/internal/http/handlers"
	"github.com/rcoury/transcodarr/internal/queue"
	"github.com/rcoury/transcodarr/internal/repository"
	"github.com/rcoury/transcodarr/internal/retention"
	"github.com/rcoury/transcodarr/internal/service"
	"github.com/rcoury/transcodarr/internal/startup"
	"github.com/rcoury/transcodarr/internal/version"
	"github.com/rcoury/transcodarr/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcodarr server",
	Long: `Start the transcodarr HTTP server, worker pool, and retention sweep.

The server provides:
- REST API for submitting and managing transcode jobs
- Liveness, readiness, and health endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database file path")
	serveCmd.Flags().String("data-dir", "", "Base directory for work and output files")
	serveCmd.Flags().Int("workers", 0, "Number of concurrent transcode workers")
	serveCmd.Flags().Int("queue-capacity", 0, "Maximum number of queued jobs")
}

// applyServeFlags overrides loaded config with explicitly set CLI flags.
// Visit only walks flags the user passed, so config file and env values
// survive unless overridden on the command line.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Server.Host, _ = flags.GetString("host")
		case "port":
			cfg.Server.Port, _ = flags.GetInt("port")
		case "database":
			cfg.Database.DSN, _ = flags.GetString("database")
		case "data-dir":
			cfg.Storage.BaseDir, _ = flags.GetString("data-dir")
		case "workers":
			cfg.Worker.Count, _ = flags.GetInt("workers")
		case "queue-capacity":
			cfg.Queue.Capacity, _ = flags.GetInt("queue-capacity")
		}
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := slog.Default()

	for _, dir := range []string{cfg.Storage.WorkPath(), cfg.Storage.OutputPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}

	// Scratch dirs left behind by an unclean shutdown are useless without
	// their in-memory queue entries.
	if removed, err := startup.CleanWorkDirs(cfg.Storage.WorkPath(), logger); err != nil {
		logger.Warn("cleaning work directories failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("cleaned orphaned work directories", slog.Int("removed", removed))
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	repo := repository.NewJobRepository(db.DB)
	q := queue.New(cfg.Queue.Capacity)

	clientCfg := fetch.DefaultClientConfig()
	clientCfg.Timeout = cfg.Fetch.Timeout
	clientCfg.RetryAttempts = cfg.Fetch.RetryAttempts
	clientCfg.RetryDelay = cfg.Fetch.RetryDelay
	clientCfg.Logger = logger
	fetcher := fetch.NewFetcher(fetch.NewClient(clientCfg), cfg.Fetch.MaxSourceBytes, logger)

	supervisor := engine.NewSupervisor(cfg.Engine, cfg.Worker.JobTimeout, logger)
	if info, err := supervisor.BinaryInfo(cmd.Context()); err != nil {
		// Readiness keeps reporting this until the binary shows up.
		logger.Warn("transcoding engine not available", slog.String("error", err.Error()))
	} else {
		logger.Info("transcoding engine detected",
			slog.String("path", info.FFmpegPath),
			slog.String("version", info.Version),
			slog.Int("encoders", len(info.Encoders)),
		)
	}

	pool := worker.NewPool(cfg.Worker, cfg.Storage, q, repo, supervisor, fetcher, logger)
	jobService := service.NewJobService(repo, q, pool, cfg.Worker.Count, logger)

	// Repair records orphaned by a crash and readmit persisted queued jobs.
	if err := jobService.Recover(cmd.Context()); err != nil {
		return fmt.Errorf("recovering job state: %w", err)
	}

	sweeper := retention.NewSweeper(repo, cfg.Retention, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting retention sweep: %w", err)
	}
	defer sweeper.Stop()

	pool.Start()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithEngine(supervisor).
		WithJobService(jobService)
	healthHandler.Register(server.API())

	jobHandler := handlers.NewJobHandler(jobService)
	jobHandler.Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting transcodarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.Int("workers", cfg.Worker.Count),
		slog.Int("queue_capacity", cfg.Queue.Capacity),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Stop intake first, then drain the pool within its configured window.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Worker.DrainTimeout+30*time.Second)
	defer drainCancel()
	if err := jobService.Shutdown(drainCtx); err != nil {
		logger.Error("worker pool shutdown failed", slog.String("error", err.Error()))
	}

	return serveErr
}
