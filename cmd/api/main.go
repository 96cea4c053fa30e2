// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"doc-ingest-service/internal/app"
	"doc-ingest-service/internal/config"
	"doc-ingest-service/internal/report"
	"doc-ingest-service/internal/service"
	httptransport "doc-ingest-service/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if !cfg.HTTP.RunWorker {
		// the API alone never extracts
		cfg.Extractor.Kind = "none"
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("api.config", "err", err)
		os.Exit(1)
	}

	deps, err := app.Build(ctx, cfg, cfg.HTTP.RunWorker, logger)
	if err != nil {
		logger.Error("api.init", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	jobs := service.NewJobService(deps.Store)
	ingest := service.NewIngestService(deps.Store, deps.Files, deps.Notifier, service.IngestConfig{
		MaxFiles:     cfg.Upload.MaxFiles,
		MaxFileBytes: cfg.Worker.MaxFileBytes,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, logger)
	h := httptransport.NewHandler(ingest, jobs, report.NewExporter(jobs, logger), cfg.Upload.MaxBytes, logger)

	var verifier *httptransport.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = httptransport.NewTokenVerifier(cfg.JWTSecret)
	} else {
		logger.Warn("api.auth.disabled", "note", "JWT_SECRET is empty; uploads are attributed to anonymous")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httptransport.Routes(h, verifier, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api.listening", "addr", cfg.HTTP.Addr, "store", cfg.Database.Driver,
			"storage", cfg.Storage.Driver, "in_process_worker", cfg.HTTP.RunWorker)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.HTTP.RunWorker {
		g.Go(func() error {
			deps.NewWorkerPool(cfg.Worker, logger).Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("api.exit", "err", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}
