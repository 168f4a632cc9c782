package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docintel/internal/api/handlers"
	"github.com/cloo-solutions/docintel/internal/chunker"
	"github.com/cloo-solutions/docintel/internal/config"
	"github.com/cloo-solutions/docintel/internal/database"
	"github.com/cloo-solutions/docintel/internal/jobs"
	"github.com/cloo-solutions/docintel/internal/models"
	"github.com/cloo-solutions/docintel/internal/server"
	"github.com/cloo-solutions/docintel/internal/service"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docintel API server and the background processing worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides DOCINTEL_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Serve requests without processing queued documents")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.HasSentry() {
		sampleRate := cfg.SentrySampleRate
		if cfg.SentryEnvironment == "development" {
			sampleRate = 1.0
		}
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := migrateAndReport(cfg.DatabaseURL, database.DefaultMigrationsSource, database.MigrateUp, 0); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}

	registry, err := models.Load(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to load models: %w", err)
	}

	service.ReconcileSummaryModel(ctx, a.cache, registry.Summarizer.ModelName())

	ch, err := chunker.New(chunker.Config{
		MaxWordsPerChunk: cfg.MaxWordsPerChunk,
		MaxTotalWords:    cfg.MaxTotalWords,
	})
	if err != nil {
		_ = registry.Close()
		_ = a.Close()
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	ttls := a.ttls()
	pipeline := service.NewPipeline(a.docRepo, a.txRunner, a.vectors, ch, registry.Embedder, registry.Summarizer, a.cache, ttls)
	searchSvc := service.NewSearchService(a.docRepo, a.corpus, a.vectors, registry.Embedder, a.cache, ttls)
	summarySvc := service.NewSummaryService(ch, registry.Summarizer, a.cache, ttls.Summary)
	documentSvc := a.documentService()

	var worker *jobs.Worker
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		// Jobs left in processing belonged to a previous process.
		if n, err := a.jobRepo.ResetStale(ctx); err != nil {
			log.Printf("worker: failed to reset stale jobs: %v", err)
		} else if n > 0 {
			log.Printf("worker: requeued %d interrupted jobs", n)
		}

		processor := jobs.NewProcessingWorker(a.jobRepo, pipeline, cfg.WorkerConcurrency, cfg.JobTimeout)
		worker = jobs.NewWorker(processor, cfg.WorkerPollInterval)
		documentSvc.WithNotifier(worker)
		go worker.Start(workerCtx)
		log.Printf("processing worker started (concurrency %d)", cfg.WorkerConcurrency)
	}

	router := server.NewRouter(server.RouterConfig{
		MaxBodyBytes: cfg.MaxUploadBytes,
		HealthHandler: handlers.NewHealthHandler(a.cache).WithPoolStats(func() database.Stats {
			return database.PoolStats(a.pool)
		}),
		DocumentHandler: handlers.NewDocumentHandler(documentSvc, searchSvc),
		SummaryHandler:  handlers.NewSummaryHandler(summarySvc),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			log.Printf("server failed: %v", err)
		}
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop taking jobs before the models go away. A job cut short here is
	// requeued by the next process.
	cancelWorker()
	if worker != nil {
		worker.Stop()
	}
	if err := registry.Close(); err != nil {
		log.Printf("models: close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}

	log.Println("server exited")
	return shutdownErr
}
