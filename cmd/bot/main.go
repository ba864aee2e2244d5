package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/storyframe/internal/bot"
	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/session"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmsgprefix)
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()
	if cfg.Bot.Token == "" {
		logger.Fatalf("TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image codec startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	renderer, err := pipeline.NewRenderer(cfg.Render.Settings())
	if err != nil {
		logger.Fatalf("renderer setup failed: %v", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		logger.Fatalf("telegram login failed: %v", err)
	}
	api.Debug = cfg.Bot.Debug

	var sessions session.Store[string]
	var memory *session.MemoryStore[string]
	if cfg.Session.Backend == config.SessionBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()
		redisSessions, err := session.NewRedisStore(rdb, cfg.Session.TTL, cfg.Session.KeyPrefix+":tg")
		if err != nil {
			logger.Fatalf("session store failed: %v", err)
		}
		sessions = redisSessions
	} else {
		memory = session.NewMemoryStore[string](cfg.Session.TTL)
		sessions = memory
	}

	handler := bot.NewHandler(
		logger,
		api,
		bot.TelegramFiles{API: api, HTTPClient: &http.Client{Timeout: 30 * time.Second}},
		renderer,
		sessions,
		cfg.Render.DefaultMode,
	)
	if memory != nil {
		go memory.Run(ctx, cfg.Session.SweepInterval, handler.ObserveSweep)
	}

	healthServer := &http.Server{
		Addr:              cfg.Bot.HealthAddr,
		Handler:           handler.HealthHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("health server listening on %s", cfg.Bot.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("health server failed: %v", err)
		}
	}()

	poller := &bot.Poller{
		API:        api,
		Handler:    handler,
		Logger:     logger,
		Timeout:    cfg.Bot.Timeout,
		MaxRenders: cfg.Worker.MaxActiveJobs,
	}
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Printf("poller stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Println("shutting down")
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("health server shutdown error: %v", err)
	}
}
