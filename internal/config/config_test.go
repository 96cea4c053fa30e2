package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost:5432/ingest")
	t.Setenv("EXTRACTOR_API_KEY", "k")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, "ingest:jobs:pending", cfg.Redis.Channel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("RUN_WORKER_IN_API", "true")
	t.Setenv("WORKERS", "9")
	t.Setenv("CLAIM_STALE_AFTER", "10m")
	t.Setenv("MAX_FILE_BYTES", "1048576")
	t.Setenv("EXTRACTOR", "none")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.HTTP.RunWorker)
	assert.Equal(t, 9, cfg.Worker.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Worker.StaleAfter)
	assert.Equal(t, int64(1<<20), cfg.Worker.MaxFileBytes)
	assert.Equal(t, int32(20), cfg.Database.MaxConns)
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("EXTRACTOR", "http")
	t.Setenv("JOB_TIMEOUT", "10m")
	t.Setenv("CLAIM_STALE_AFTER", "5m")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN is required")
	assert.Contains(t, err.Error(), "EXTRACTOR_ENDPOINT is required")
	assert.Contains(t, err.Error(), "must exceed JOB_TIMEOUT")
}

func TestValidate_MemoryStoreNeedsInProcessWorker(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("EXTRACTOR", "none")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RUN_WORKER_IN_API")
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:****@db:5432/ingest?sslmode=disable",
		RedactDSN("postgres://app:s3cret@db:5432/ingest?sslmode=disable"))
	assert.Equal(t, "postgres://db:5432/ingest", RedactDSN("postgres://db:5432/ingest"))
}
