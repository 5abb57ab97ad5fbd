package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tutorledger/internal/auth"
	"tutorledger/internal/backend"
	"tutorledger/internal/cache"
	"tutorledger/internal/cli"
	"tutorledger/internal/core"
	apphttp "tutorledger/internal/http"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/services"
)

const (
	summaryCacheSize = 500
	summaryCacheTTL  = 10 * time.Minute
	cacheSweep       = time.Minute
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	logger.Info("Starting tutorledger", applog.FieldOperation, applog.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	purge, err := services.ParsePurgePolicy(cfg.ArchiveCurrentPurge)
	if err != nil {
		logger.Error("Invalid purge policy", applog.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	m := metrics.New()

	summaries := cache.NewLRUCache[core.MonthlySummary](summaryCacheSize, summaryCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(summaries)
	cacheManager.OnClean(m.CacheExpired)
	cacheManager.StartCleanup(cacheSweep)

	// A nil *amqp.Client must not become a non-nil interface.
	var publisher services.EventPublisher
	if res.Publisher != nil {
		publisher = res.Publisher
	}

	income := services.NewIncomeService(res.Store, summaries, m)
	archives := services.NewArchiveService(res.Store, res.Store, publisher, income, m, purge)
	accounts := auth.NewPasswordAuthenticator(res.Store, 0)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Income:             income,
		Archives:           archives,
		Accounts:           accounts,
		JWT:                auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		Metrics:            m,
		Logger:             logger.WithComponent(applog.ComponentHTTP),
		Ready:              res.Store.Ping,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Location:           cfg.Location(),
	})

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cacheManager.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	logger.Info("Starting HTTP server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", publisher != nil,
		"purge_policy", string(purge))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
