package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/events"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/storage"
	"github.com/dunamismax/storyframe/internal/store"
	"github.com/dunamismax/storyframe/internal/telemetry"
	"github.com/dunamismax/storyframe/internal/webhook"
	"github.com/dunamismax/storyframe/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image codec startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TraceConfig("storyframe-worker"), logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	renderer, err := pipeline.NewRenderer(cfg.Render.Settings())
	if err != nil {
		logger.Fatalf("renderer setup failed: %v", err)
	}

	objects, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Fatalf("ensure bucket failed: %v", err)
	}

	deps := worker.Dependencies{
		Storage: objects,
		Webhook: webhook.NewClient(cfg.Webhook.ClientConfig()),
	}

	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pg.Close()
		deps.JobStore = pg
		deps.UsageStore = pg
	} else {
		logger.Printf("POSTGRES_DSN unset, job status and usage are not persisted")
	}

	if cfg.Events.URL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			logger.Fatalf("event publisher failed: %v", err)
		}
		defer publisher.Close()
		deps.Publisher = publisher
	}

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, renderer, deps)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s codec=%s canvas=%dx%d",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		pipeline.CodecName(),
		cfg.Render.TargetWidth,
		cfg.Render.TargetHeight,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}
}
