// Package app assembles the collaborators shared by the binaries from a
// config.Config: job store, file storage, extraction, notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"doc-ingest-service/internal/config"
	"doc-ingest-service/internal/extraction"
	"doc-ingest-service/internal/notify"
	"doc-ingest-service/internal/repository/memory"
	"doc-ingest-service/internal/repository/postgresql"
	"doc-ingest-service/internal/service"
	"doc-ingest-service/internal/storage"
	"doc-ingest-service/internal/worker"
)

// Store is everything the binaries need from a job store driver.
type Store interface {
	service.BatchCreator
	service.JobReader
	worker.JobStore
}

type Deps struct {
	Store     Store
	Files     storage.FileStore
	Converter extraction.Converter
	Notifier  notify.Notifier
	Nudges    notify.Source

	// Pool is nil for STORE_DRIVER=memory.
	Pool *pgxpool.Pool

	closers []func() error
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Build opens every backend named by cfg. withConverter is false for
// processes that never extract (the API without an in-process worker).
func Build(ctx context.Context, cfg *config.Config, withConverter bool, logger *slog.Logger) (*Deps, error) {
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("store.memory", "note", "jobs live in this process only")
		d.Store = memory.NewStore()
	default:
		pool, err := postgresql.NewPool(ctx, postgresql.PoolConfig{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
			ApplicationName: "doc-ingest-service",
		})
		if err != nil {
			return nil, fmt.Errorf("postgres %s: %w", config.RedactDSN(cfg.Database.DSN), err)
		}
		d.Pool = pool
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		d.Store = postgresql.NewStore(pool)
	}

	switch cfg.Storage.Driver {
	case "s3":
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.Storage.S3Endpoint,
			Bucket:    cfg.Storage.S3Bucket,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			UseSSL:    cfg.Storage.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		d.Files = s3
	default:
		local, err := storage.NewLocalStore(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("local storage: %w", err)
		}
		d.Files = local
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.closers = append(d.closers, rdb.Close)
		rn := notify.NewRedisNotifier(rdb, cfg.Redis.Channel, logger)
		d.Notifier, d.Nudges = rn, rn
	} else {
		local := notify.NewLocal()
		d.Notifier, d.Nudges = local, local
	}

	if withConverter {
		conv, err := d.newConverter(ctx, cfg.Extractor, logger)
		if err != nil {
			return nil, err
		}
		d.Converter = conv
	}

	ok = true
	return d, nil
}

func (d *Deps) newConverter(ctx context.Context, cfg config.ExtractorConfig, logger *slog.Logger) (extraction.Converter, error) {
	var def extraction.Converter
	switch cfg.Kind {
	case "gemini":
		g, err := extraction.NewGeminiConverter(ctx, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		d.closers = append(d.closers, g.Close)
		def = g
	case "http":
		def = extraction.NewHTTPConverter(cfg.Endpoint, cfg.APIKey, cfg.Timeout, logger)
	case "none":
		logger.Warn("extractor.none", "note", "only spreadsheet uploads can be processed")
	}
	return extraction.NewRouter(def).Handle(extraction.MimeXLSX, extraction.NewSpreadsheetConverter()), nil
}

// NewWorkerPool builds the poller and processor for workerID.
func (d *Deps) NewWorkerPool(cfg config.WorkerConfig, logger *slog.Logger) *worker.Pool {
	proc := worker.NewProcessor(d.Store, d.Files, d.Converter,
		worker.WithJobTimeout(cfg.JobTimeout),
		worker.WithMaxFileBytes(cfg.MaxFileBytes),
		worker.WithWorkerID(cfg.ID),
		worker.WithLogger(logger),
	)
	return worker.NewPool(d.Store, proc, d.Nudges, worker.PoolConfig{
		Workers:    cfg.Workers,
		Interval:   cfg.PollInterval,
		BatchLimit: cfg.BatchLimit,
		StaleAfter: cfg.StaleAfter,
		WorkerID:   cfg.ID,
	}, logger)
}

// Close releases backends in reverse order of creation.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
