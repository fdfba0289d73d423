package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"asset-pipeline/api/rest/handlers"
	"asset-pipeline/api/rest/routes"
	"asset-pipeline/config"
	"asset-pipeline/core/completion"
	"asset-pipeline/core/logger"
	"asset-pipeline/core/models"
	"asset-pipeline/core/monitoring"
	"asset-pipeline/core/pipeline"
	"asset-pipeline/core/repository"
	"asset-pipeline/core/scheduler"
	"asset-pipeline/providers/aws"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var store repository.Store
	switch cfg.StoreDriver {
	case "memory":
		store = repository.NewMemoryStore()
		log.Warn("Using in-memory store, state is lost on restart")
	default:
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal("Failed to migrate database", "error", err)
		}
		store = repository.NewPostgres(db)
		log.Info("Database connected successfully")
	}

	presets, err := config.LoadJobPresets(cfg.JobPresetsFile)
	if err != nil {
		log.Fatal("Failed to load job presets", "error", err)
	}

	// Initialize AWS Batch client
	batchClient, err := aws.NewClient(ctx, cfg.AWSRegion, cfg.BatchEndpointURL)
	if err != nil {
		log.Fatal("Failed to create AWS Batch client", "error", err)
	}

	// Initialize scheduler and completion tracker
	sched := scheduler.NewScheduler(batchClient, scheduler.Config{
		MaxRounds:   cfg.MaxScheduleRounds,
		Environment: cfg.JobEnvironment(),
	}, log.With("component", "scheduler"))

	tracker := completion.NewTracker(store, log.With("component", "completion"))
	tracker.OnSaved(models.AssetTypeDynamicVectorTileCache, logSaved(log))
	tracker.OnSaved(models.AssetTypeStaticVectorTileCache, logSaved(log))
	tracker.OnSaved(models.AssetTypeRasterTileCache, logSaved(log))

	runner := pipeline.NewRunner(store, sched, presets, pipeline.Config{
		MaxParents: cfg.MaxFanInParents,
		Workers:    cfg.PipelineWorkers,
	}, log.With("component", "pipeline"))

	// Initialize job monitor
	monitor := monitoring.NewJobMonitor(store, batchClient, tracker, cfg.MonitorInterval, log.With("component", "monitor"))
	go monitor.Start(ctx)

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Handlers{
		Tasks:     handlers.NewTaskHandler(store, tracker, log),
		Assets:    handlers.NewAssetHandler(store, runner, log),
		Dashboard: handlers.NewDashboardHandler(monitoring.NewMetricsExporter(store, monitor), log),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := runner.Wait(); err != nil {
		log.Warn("Pipelines finished with errors", "error", err)
	}
	log.Info("Server exited")
}

// logSaved records tile cache assets that are ready to be served
func logSaved(log *logger.Logger) completion.Hook {
	return func(ctx context.Context, asset models.Asset) error {
		log.Info("Tile cache asset ready",
			"asset_id", asset.ID.String(),
			"dataset", asset.Dataset,
			"version", asset.Version,
			"asset_type", string(asset.AssetType),
		)
		return nil
	}
}
