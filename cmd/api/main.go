package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/storyframe/internal/api"
	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/queue"
	"github.com/dunamismax/storyframe/internal/ratelimit"
	"github.com/dunamismax/storyframe/internal/session"
	"github.com/dunamismax/storyframe/internal/storage"
	"github.com/dunamismax/storyframe/internal/store"
	"github.com/dunamismax/storyframe/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TraceConfig("storyframe-api"), logger)
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

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
	if err := objects.ExpireObjects(ctx, pipeline.SourceObjectPrefix, cfg.Storage.UploadRetentionDays); err != nil {
		logger.Printf("upload expiry not applied: %v", err)
	}

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("POSTGRES_DSN unset, jobs are kept in memory")
	}

	var rdb *redis.Client
	if cfg.Session.Backend == config.SessionBackendRedis || cfg.RateLimit.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()
	}

	sessions, err := newSessionStore(ctx, cfg.Session, rdb, logger)
	if err != nil {
		logger.Fatalf("session store failed: %v", err)
	}

	opts := api.Options{
		Sessions:          sessions,
		SubmitterIDHeader: cfg.API.SubmitterIDHeader,
		MaxUploadBytes:    cfg.API.MaxUploadBytes,
		DefaultMode:       cfg.Render.DefaultMode,
		QueueName:         queueClient.QueueName(),
	}
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisTokenBucket(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter failed: %v", err)
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, jobStore, objects, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s session_backend=%s rate_limit=%t", cfg.API.Addr, cfg.Session.Backend, cfg.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func newSessionStore(ctx context.Context, cfg config.SessionConfig, rdb *redis.Client, logger *log.Logger) (session.Store[string], error) {
	if cfg.Backend == config.SessionBackendRedis {
		sessions, err := session.NewRedisStore(rdb, cfg.TTL, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return sessions, nil
	}

	sessions := session.NewMemoryStore[string](cfg.TTL)
	go sessions.Run(ctx, cfg.SweepInterval, func(removed int) {
		logger.Printf("expired sessions removed=%d", removed)
	})
	return sessions, nil
}
