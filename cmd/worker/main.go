// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"doc-ingest-service/internal/app"
	"doc-ingest-service/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.Driver == "memory" {
		logger.Error("worker.config", "err", "STORE_DRIVER=memory is not shared with the API; run the API with RUN_WORKER_IN_API=true instead")
		os.Exit(1)
	}
	cfg.HTTP.RunWorker = true // the memory-store check does not apply to this binary
	if err := cfg.Validate(); err != nil {
		logger.Error("worker.config", "err", err)
		os.Exit(1)
	}

	deps, err := app.Build(ctx, cfg, true, logger)
	if err != nil {
		logger.Error("worker.init", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	logger.Info("worker.config",
		"worker_id", cfg.Worker.ID,
		"workers", cfg.Worker.Workers,
		"poll_interval", cfg.Worker.PollInterval.String(),
		"stale_after", cfg.Worker.StaleAfter.String(),
		"max_attempts", cfg.Worker.MaxAttempts,
		"extractor", cfg.Extractor.Kind,
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Addr != "",
		"postgres_dsn", config.RedactDSN(cfg.Database.DSN),
	)

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		logger.Error("worker.health.listen", "addr", cfg.HealthAddr, "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("worker.health.serving", "addr", cfg.HealthAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		deps.NewWorkerPool(cfg.Worker, logger).Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker.exit", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
