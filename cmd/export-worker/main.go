package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tutorledger/internal/backend"
	"tutorledger/internal/cli"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting export-worker", applog.FieldOperation, applog.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Export configuration invalid", applog.FieldError, err, applog.FieldErrorType, applog.ErrorTypeConfiguration)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)

	res, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}()

	exporter, err := factory.CreateExporter(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", applog.FieldError, err)
		os.Exit(1)
	}

	m := metrics.New()
	exportWorker := worker.NewExportWorker(res.Store, exporter, m, cfg.ExportBatchSize)
	scheduler, err := worker.NewScheduler(cfg.ExportSchedule, exportWorker, 2*time.Minute)
	if err != nil {
		logger.Error("Invalid export schedule", applog.FieldError, err, "schedule", cfg.ExportSchedule)
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown error", applog.FieldError, err)
		}
	})

	// Catch up on archives whose events were lost while the worker was down.
	if n, err := exportWorker.ExportPending(ctx); err != nil {
		logger.Error("Startup export failed", applog.FieldError, err)
	} else {
		logger.Info("Startup export completed", "exported", n)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if res.Publisher != nil {
		g.Go(func() error {
			return res.Publisher.ConsumeArchiveEvents(gctx, exportWorker.HandleEvent)
		})
	} else {
		logger.Warn("AMQP disabled, relying on scheduled export only")
	}

	g.Go(func() error {
		logger.Info("Serving metrics", "port", cfg.Port)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Export worker stopped with error", applog.FieldError, err)
		return
	}

	<-done
	logger.Info("Export worker stopped")
}
