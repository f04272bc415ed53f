package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/dunamismax/imagecpr/internal/logging"
	"github.com/dunamismax/imagecpr/internal/queue"
	"github.com/dunamismax/imagecpr/internal/storage"
	"github.com/dunamismax/imagecpr/internal/telemetry"
	"github.com/dunamismax/imagecpr/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Log       logging.Config
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	MaxPixels      int
	PresignExpiry  time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
	Retention     time.Duration
}

func (q QueueConfig) ClientOptions() queue.Options {
	return queue.Options{
		Queue:     q.Name,
		MaxRetry:  q.MaxRetry,
		Timeout:   q.TaskTimeout,
		Retention: q.Retention,
	}
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
	MaxPixels      int
	LocalOutputDir string
	OutputPrefix   string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	Driver string
	DSN    string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// Trace is the tracer setup for one binary.
func (t TelemetryConfig) Trace(service string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  service,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
		SampleRatio:  t.SampleRatio,
	}
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (w WebhookConfig) Client() webhook.Config {
	return webhook.Config{
		SigningSecret:  w.SigningSecret,
		Timeout:        w.Timeout,
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
	}
}

// StorageClient is the object storage client config. Source reads are capped
// at the same size as inline uploads.
func (c Config) StorageClient() storage.Config {
	return storage.Config{
		Endpoint:       c.Storage.Endpoint,
		Region:         c.Storage.Region,
		Access:         c.Storage.AccessKey,
		Secret:         c.Storage.SecretKey,
		Bucket:         c.Storage.Bucket,
		UseSSL:         c.Storage.UseSSL,
		MaxObjectBytes: c.API.MaxUploadBytes,
	}
}

// Load reads configuration from the environment after applying envFiles
// (".env" when none are given). Missing env files are ignored; variables that
// are already set win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	maxPixels := envInt("IMAGECPR_MAX_PIXELS", domain.DefaultMaxPixels)

	cfg := Config{
		API: APIConfig{
			Addr:           env("IMAGECPR_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("IMAGECPR_MAX_UPLOAD_MB", 32)) << 20,
			MaxPixels:      maxPixels,
			PresignExpiry:  envDuration("IMAGECPR_PRESIGN_EXPIRY", 15*time.Minute),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", queue.DefaultMaxRetry),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", queue.DefaultTimeout),
			Retention:     envDuration("ASYNC_RETENTION", queue.DefaultRetention),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MaxPixels:      maxPixels,
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.imagecpr-output"),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "outputs"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			Region:    env("MINIO_REGION", ""),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imagecpr-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(env("IMAGECPR_DB_DRIVER", DatabaseMemory)),
			DSN:    env("IMAGECPR_DB_DSN", ""),
		},
		Log: logging.Config{
			Level:       env("IMAGECPR_LOG_LEVEL", ""),
			Development: envBool("IMAGECPR_LOG_DEVELOPMENT", false),
			FilePath:    env("IMAGECPR_LOG_FILE", ""),
			MaxSizeMB:   envInt("IMAGECPR_LOG_MAX_SIZE_MB", logging.DefaultMaxSizeMB),
			MaxBackups:  envInt("IMAGECPR_LOG_MAX_BACKUPS", logging.DefaultMaxBackups),
			MaxAgeDays:  envInt("IMAGECPR_LOG_MAX_AGE_DAYS", logging.DefaultMaxAgeDays),
			Compress:    envBool("IMAGECPR_LOG_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("IMAGECPR_RATE_LIMIT_ENABLED", false),
			Capacity: envInt("IMAGECPR_RATE_LIMIT_CAPACITY", 60),
			Window:   envDuration("IMAGECPR_RATE_LIMIT_WINDOW", time.Minute),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("IMAGECPR_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("IMAGECPR_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("IMAGECPR_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("IMAGECPR_WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("IMAGECPR_WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Database.Driver {
	case DatabaseMemory:
	case DatabasePostgres, DatabaseSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("IMAGECPR_DB_DSN is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate limit capacity and window must be positive")
	}
	return nil
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
