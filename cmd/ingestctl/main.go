// Package main is the operator CLI for the ingestion pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"doc-ingest-service/internal/app"
	"doc-ingest-service/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "ingestctl",
	Short:         "Operate the document ingestion pipeline",
	Long:          "ingestctl applies the schema, runs one poll tick by hand and inspects jobs and their audit trail.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// setup loads config and opens the postgres-backed dependencies.
func setup(ctx context.Context, withConverter bool) (*config.Config, *app.Deps, *slog.Logger, error) {
	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)
	if cfg.Database.Driver != "postgres" {
		return nil, nil, nil, fmt.Errorf("ingestctl needs STORE_DRIVER=postgres, got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return nil, nil, nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	deps, err := app.Build(ctx, cfg, withConverter, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, deps, logger, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
