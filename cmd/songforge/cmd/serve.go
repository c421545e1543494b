package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/songforge/songforge/internal/config"
	"github.com/songforge/songforge/internal/database"
	internalhttp "github.com/songforge/songforge/internal/http"
	"github.com/songforge/songforge/internal/http/handlers"
	"github.com/songforge/songforge/internal/models"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/planner"
	"github.com/songforge/songforge/internal/renderer"
	"github.com/songforge/songforge/internal/repository"
	"github.com/songforge/songforge/internal/scheduler"
	"github.com/songforge/songforge/internal/service"
	"github.com/songforge/songforge/internal/storage"
	"github.com/songforge/songforge/internal/transcoder"
	"github.com/songforge/songforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the songforge server",
	Long: `Start the songforge HTTP server and worker pool.

The server provides:
- REST API for submitting generation requests and polling jobs
- Asset streaming with byte-range support
- Prometheus metrics at /metrics and a health check at /health`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN")
	serveCmd.Flags().String("assets-dir", "", "Directory for stored assets (local backend)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd.Flags(), cfg)
	applyLoggingFlags(cfg)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	metrics := observability.NewMetrics()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	jobRepo := repository.NewJobRepository(db.DB)
	assetRepo := repository.NewAssetRepository(db.DB)
	apiKeyRepo := repository.NewApiKeyRepository(db.DB)
	rateRepo := repository.NewRateCounterRepository(db.DB)

	startupCtx := context.Background()

	if cfg.Auth.DefaultAPIKey != "" {
		_, err := apiKeyRepo.EnsureKey(startupCtx, &models.ApiKey{
			Key:             cfg.Auth.DefaultAPIKey,
			Owner:           "default",
			RateLimitPerMin: cfg.Auth.RateLimitPerMin,
		})
		if err != nil {
			return fmt.Errorf("seeding default api key: %w", err)
		}
		logger.Info("default api key ensured", slog.String("owner", "default"))
	}

	store, err := newStore(startupCtx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	if err := storage.Probe(startupCtx, store); err != nil {
		return fmt.Errorf("probing storage: %w", err)
	}

	transcoderRunner := transcoder.NewRunner(cfg.Transcoder.ProcessGrace, logger)
	prober := transcoder.NewProber(cfg.Transcoder.BinaryPath, cfg.Transcoder.ProbePath)

	caps := prober.Probe(startupCtx)
	if caps.Available() {
		metrics.TranscoderAvailable.Set(1)
		logger.Info("transcoder available", slog.String("version", caps.TranscoderVersion))
	} else {
		metrics.TranscoderAvailable.Set(0)
		logger.Warn("transcoder or probe binary not reachable; render jobs will fail until it appears",
			slog.String("binary", cfg.Transcoder.BinaryPath),
			slog.String("probe", cfg.Transcoder.ProbePath),
		)
	}

	scratchRoot := scratchRootFor(cfg.Storage)
	rend := renderer.New(renderer.Config{
		TranscoderBin: cfg.Transcoder.BinaryPath,
		ScratchRoot:   scratchRoot,
	}, transcoderRunner, prober, store, metrics, logger)

	executor := scheduler.NewExecutor(jobRepo).
		WithLogger(logger).
		WithMetrics(metrics).
		WithRequeueDelay(cfg.Workers.ShutdownGrace).
		WithTimeout(jobTimeout(cfg.Generation))

	runner := scheduler.NewRunner(jobRepo, executor).
		WithLogger(logger).
		WithMetrics(metrics).
		WithConfig(scheduler.RunnerConfig{
			Concurrency: func(jobType models.JobType) int {
				return cfg.Workers.ConcurrencyFor(string(jobType))
			},
			PollInterval: cfg.Workers.PollInterval,
			LockTimeout:  cfg.Workers.LockTimeout,
		})

	executor.RegisterHandler(models.JobTypePlan, scheduler.NewPlanHandler(planner.NewPlanner(nil, logger)))
	executor.RegisterHandler(models.JobTypeAudio, scheduler.NewStemsHandler(rend, jobRepo, logger))
	executor.RegisterHandler(models.JobTypeMix, scheduler.NewMixHandler(rend, jobRepo, logger))
	executor.RegisterHandler(models.JobTypeVocals, scheduler.NewVocalsHandler(rend, jobRepo, logger))
	executor.RegisterHandler(models.JobTypeVideo, scheduler.NewVideoHandler(rend, jobRepo, logger))
	executor.RegisterHandler(models.JobTypePipeline, scheduler.NewPipelineHandler(
		jobRepo, assetRepo, rend, runner,
		scheduler.PipelineHandlerConfig{
			ChildWindow: cfg.Workers.IdempotencyWindow,
			MaxAttempts: cfg.Workers.MaxAttempts,
			BackoffMS:   cfg.Workers.BackoffMS,
		},
		metrics, logger,
	))

	janitor := scheduler.NewJanitor(jobRepo, rateRepo, scheduler.JanitorConfig{
		LockTimeout: cfg.Workers.LockTimeout,
		ScratchRoot: scratchRoot,
		ScratchTTL:  cfg.Storage.ScratchTTL,
	}, logger)

	svc := service.NewGenerationService(jobRepo, assetRepo, apiKeyRepo, rateRepo,
		service.GenerationServiceConfig{
			IdempotencyWindow:      cfg.Workers.IdempotencyWindow,
			MaxAttempts:            cfg.Workers.MaxAttempts,
			BackoffMS:              cfg.Workers.BackoffMS,
			DefaultRateLimitPerMin: cfg.Auth.RateLimitPerMin,
		}).
		WithLogger(logger).
		WithMetrics(metrics).
		WithWaker(runner)

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	server := internalhttp.NewServer(serverConfig, svc, metrics, logger, version.Version)

	handlers.NewGenerateHandler(svc).Register(server.API())
	handlers.NewJobHandler(svc).Register(server.API())
	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithJobRepository(jobRepo).
		WithProber(prober).
		WithStore(store).
		Register(server.API())
	handlers.NewAssetHandler(svc, store, logger).Register(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting songforge server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Drain the workers after the listener closes so in-flight jobs requeue
	// before the process exits.
	runner.Stop()
	janitor.Stop()
	return err
}

// applyServeFlags overrides loaded configuration with explicitly set CLI flags.
func applyServeFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("assets-dir") {
		cfg.Storage.AssetsDir, _ = flags.GetString("assets-dir")
	}
}

// applyLoggingFlags overrides the logging config with explicitly set root flags.
func applyLoggingFlags(cfg *config.Config) {
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
}

// newStore builds the configured storage backend.
func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Store(ctx, cfg.S3)
	default:
		return storage.NewLocalStore(cfg.AssetsDir, cfg.PublicBaseURL)
	}
}

// scratchRootFor places pipeline scratch trees next to the local assets or,
// when assets live in S3, under the system temp directory.
func scratchRootFor(cfg config.StorageConfig) string {
	if cfg.Backend == "local" && cfg.AssetsDir != "" {
		return filepath.Join(cfg.AssetsDir, "scratch")
	}
	return filepath.Join(os.TempDir(), "songforge-scratch")
}

// jobTimeout derives the per-job wall-clock budget from the requested audio
// duration carried in the job params.
func jobTimeout(cfg config.GenerationConfig) scheduler.TimeoutFunc {
	return func(job *models.Job) time.Duration {
		var params struct {
			DurationSec int `json:"duration_sec"`
		}
		_ = json.Unmarshal(job.Params, &params)
		return cfg.JobTimeout(params.DurationSec)
	}
}
