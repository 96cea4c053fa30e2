// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP       HTTPConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Worker     WorkerConfig
	Upload     UploadConfig
	Extractor  ExtractorConfig
	Log        LogConfig
	JWTSecret  string
	HealthAddr string
}

type HTTPConfig struct {
	Addr string
	// RunWorker starts a poller inside the API process, which is what makes
	// the memory store and the in-process notifier usable end to end.
	RunWorker bool
}

type DatabaseConfig struct {
	Driver          string // postgres | memory
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

type StorageConfig struct {
	Driver      string // local | s3
	Root        string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
}

type RedisConfig struct {
	Addr    string
	Channel string
}

type WorkerConfig struct {
	ID           string
	Workers      int
	PollInterval time.Duration
	BatchLimit   int
	StaleAfter   time.Duration
	MaxAttempts  int
	JobTimeout   time.Duration
	MaxFileBytes int64
}

type UploadConfig struct {
	MaxBytes int64
	MaxFiles int
}

type ExtractorConfig struct {
	Kind     string // gemini | http | none
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	return &Config{
		HTTP: HTTPConfig{
			Addr:      getEnv("HTTP_ADDR", ":8080"),
			RunWorker: getEnvAsBool("RUN_WORKER_IN_API", false),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			DSN:             getEnv("POSTGRES_DSN", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Storage: StorageConfig{
			Driver:      strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
			Root:        getEnv("STORAGE_ROOT", "./data/uploads"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Bucket:    getEnv("S3_BUCKET", "ingest-uploads"),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3UseSSL:    getEnvAsBool("S3_USE_SSL", true),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", ""),
			Channel: getEnv("REDIS_CHANNEL", "ingest:jobs:pending"),
		},
		Worker: WorkerConfig{
			ID:           getEnv("WORKER_ID", host),
			Workers:      getEnvAsInt("WORKERS", 4),
			PollInterval: getEnvAsDuration("POLL_INTERVAL", 10*time.Second),
			BatchLimit:   getEnvAsInt("POLL_BATCH_LIMIT", 50),
			StaleAfter:   getEnvAsDuration("CLAIM_STALE_AFTER", 5*time.Minute),
			MaxAttempts:  getEnvAsInt("MAX_ATTEMPTS", 3),
			JobTimeout:   getEnvAsDuration("JOB_TIMEOUT", 2*time.Minute),
			MaxFileBytes: getEnvAsInt64("MAX_FILE_BYTES", 20<<20),
		},
		Upload: UploadConfig{
			MaxBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 200<<20),
			MaxFiles: getEnvAsInt("MAX_FILES_PER_UPLOAD", 100),
		},
		Extractor: ExtractorConfig{
			Kind:     strings.ToLower(getEnv("EXTRACTOR", "gemini")),
			Endpoint: getEnv("EXTRACTOR_ENDPOINT", ""),
			APIKey:   getEnv("EXTRACTOR_API_KEY", ""),
			Model:    getEnv("EXTRACTOR_MODEL", ""),
			Timeout:  getEnvAsDuration("EXTRACTOR_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
		JWTSecret:  getEnv("JWT_SECRET", ""),
		HealthAddr: getEnv("HEALTH_ADDR", ":9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings needed by the API and worker binaries.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Database.Driver))
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("STORAGE_ROOT is required when STORAGE_DRIVER=local"))
		}
	case "s3":
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required when STORAGE_DRIVER=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be local or s3, got %q", c.Storage.Driver))
	}

	switch c.Extractor.Kind {
	case "gemini":
		if c.Extractor.APIKey == "" {
			errs = append(errs, errors.New("EXTRACTOR_API_KEY is required when EXTRACTOR=gemini"))
		}
	case "http":
		if c.Extractor.Endpoint == "" {
			errs = append(errs, errors.New("EXTRACTOR_ENDPOINT is required when EXTRACTOR=http"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("EXTRACTOR must be gemini, http or none, got %q", c.Extractor.Kind))
	}

	if c.Worker.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS must be at least 1, got %d", c.Worker.Workers))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts))
	}
	if c.Worker.StaleAfter <= c.Worker.JobTimeout {
		errs = append(errs, fmt.Errorf("CLAIM_STALE_AFTER (%s) must exceed JOB_TIMEOUT (%s)", c.Worker.StaleAfter, c.Worker.JobTimeout))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.Upload.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("MAX_FILES_PER_UPLOAD must be at least 1, got %d", c.Upload.MaxFiles))
	}
	if c.Upload.MaxBytes <= 0 || c.Worker.MaxFileBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES and MAX_FILE_BYTES must be positive"))
	}
	if c.Database.Driver == "memory" && !c.HTTP.RunWorker {
		errs = append(errs, errors.New("STORE_DRIVER=memory needs RUN_WORKER_IN_API=true: the store is not shared between processes"))
	}

	return errors.Join(errs...)
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ becomes user:****@.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
