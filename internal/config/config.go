package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/storyframe/internal/compose"
	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/telemetry"
	"github.com/dunamismax/storyframe/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Render    RenderConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Events    EventsConfig
	Telemetry TelemetryConfig
	Bot       BotConfig
}

type APIConfig struct {
	Addr              string
	MaxUploadBytes    int64
	SubmitterIDHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

// StorageConfig points at the object store. UploadRetentionDays expires
// uploaded sources, including first photos whose session was reset or
// expired; zero disables the lifecycle rule.
type StorageConfig struct {
	Endpoint            string
	AccessKey           string
	SecretKey           string
	Bucket              string
	UseSSL              bool
	UploadRetentionDays int
}

// DatabaseConfig selects the job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string
}

type RenderConfig struct {
	TargetWidth   int               `yaml:"target_width"`
	TargetHeight  int               `yaml:"target_height"`
	JPEGQuality   int               `yaml:"jpeg_quality"`
	BlurSigma     float64           `yaml:"blur_sigma"`
	BlurDownscale int               `yaml:"blur_downscale"`
	DefaultMode   domain.LayoutMode `yaml:"default_mode"`
}

func (r RenderConfig) Settings() pipeline.Settings {
	return pipeline.Settings{
		Canvas:        domain.Dimensions{Width: r.TargetWidth, Height: r.TargetHeight},
		JPEGQuality:   r.JPEGQuality,
		BlurSigma:     r.BlurSigma,
		BlurDownscale: r.BlurDownscale,
	}
}

type SessionConfig struct {
	Backend       string
	TTL           time.Duration
	SweepInterval time.Duration
	KeyPrefix     string
}

type RateLimitConfig struct {
	Enabled   bool
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (w WebhookConfig) ClientConfig() webhook.Config {
	return webhook.Config{
		SigningSecret:  w.SigningSecret,
		Timeout:        w.Timeout,
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
	}
}

// EventsConfig enables the AMQP publisher when URL is set.
type EventsConfig struct {
	URL      string
	Exchange string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func (t TelemetryConfig) TraceConfig(serviceName string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  serviceName,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
		SampleRatio:  t.SampleRatio,
	}
}

type BotConfig struct {
	Token      string
	HealthAddr string
	Debug      bool
	Timeout    int
}

// LoadDotEnv reads .env from the working directory when one exists.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:              env("STORYFRAME_API_ADDR", ":8080"),
			MaxUploadBytes:    int64(envInt("STORYFRAME_MAX_UPLOAD_BYTES", 20<<20)),
			SubmitterIDHeader: env("STORYFRAME_SUBMITTER_HEADER", "X-Submitter-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.storyframe-output"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:            env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:           env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:           env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:              env("MINIO_BUCKET", "storyframe-jobs"),
			UseSSL:              envBool("MINIO_USE_SSL", false),
			UploadRetentionDays: envInt("UPLOAD_RETENTION_DAYS", 7),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Render: RenderConfig{
			TargetWidth:   envInt("STORY_TARGET_WIDTH", compose.CanonicalCanvas.Width),
			TargetHeight:  envInt("STORY_TARGET_HEIGHT", compose.CanonicalCanvas.Height),
			JPEGQuality:   envInt("STORY_JPEG_QUALITY", pipeline.DefaultQuality),
			BlurSigma:     envFloat("STORY_BLUR_SIGMA", compose.DefaultBlurSigma),
			BlurDownscale: envInt("STORY_BLUR_DOWNSCALE", compose.DefaultBlurDownscale),
			DefaultMode:   envMode("STORY_DEFAULT_MODE", domain.ModeFitBlurred),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(env("SESSION_BACKEND", SessionBackendMemory)),
			TTL:           envDuration("SESSION_TTL", 15*time.Minute),
			SweepInterval: envDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			KeyPrefix:     env("SESSION_KEY_PREFIX", "storyframe:session"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   envBool("RATE_LIMIT_ENABLED", true),
			Capacity:  envInt("RATE_LIMIT_CAPACITY", 30),
			Window:    envDuration("RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix: env("RATE_LIMIT_KEY_PREFIX", "storyframe:ratelimit"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Events: EventsConfig{
			URL:      env("AMQP_URL", ""),
			Exchange: env("AMQP_EXCHANGE", "storyframe.events"),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Bot: BotConfig{
			Token:      env("TOKEN", ""),
			HealthAddr: ":" + env("PORT", "8080"),
			Debug:      envBool("BOT_DEBUG", false),
			Timeout:    envInt("BOT_POLL_TIMEOUT", 60),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envMode(key string, fallback domain.LayoutMode) domain.LayoutMode {
	mode, err := domain.ParseLayoutMode(env(key, ""), fallback)
	if err != nil {
		return fallback
	}
	return mode
}
