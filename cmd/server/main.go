package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tenantdesk/exojobs/infrastructure/http/middleware"
	"github.com/tenantdesk/exojobs/infrastructure/service/jwt"
	"github.com/tenantdesk/exojobs/infrastructure/service/ratelimit"
	httpadapter "github.com/tenantdesk/exojobs/internal/adapter/http"
	"github.com/tenantdesk/exojobs/internal/app"
	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/usecase"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	// Initialize structured logger
	structuredLogger := app.NewLogger(cfg, "exojobs-server", nil)
	structuredLogger.Info(ctx, "Application starting", map[string]interface{}{
		"env":            cfg.Server.Environment,
		"execution_mode": cfg.Server.ExecutionMode,
		"audit_driver":   cfg.Audit.Driver,
	})

	core, err := app.NewCore(ctx, cfg, structuredLogger)
	if err != nil {
		structuredLogger.Error(ctx, "Failed to open audit store", err, nil)
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer core.Close()

	executor := usecase.NewSyncExecutor(core.Attempts)

	// The queue is only needed when POST /api/jobs enqueues
	var enqueuer httpadapter.JobEnqueuer
	if cfg.Server.ExecutionMode == config.ModeQueued {
		q, err := core.OpenQueue(ctx)
		if err != nil {
			structuredLogger.Error(ctx, "Failed to connect to job queue", err, map[string]interface{}{
				"queue": cfg.Queue.Name,
			})
			log.Fatalf("Failed to connect to job queue: %v", err)
		}
		defer q.Close()
		enqueuer = usecase.NewEnqueuer(q, structuredLogger, core.Metrics)
	}

	// Initialize rate limiting service (Redis-backed or noop based on config)
	var redisClient *redis.Client
	if cfg.RateLimit.Enabled {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		if cfg.Redis.Timeout > 0 {
			opt.DialTimeout = cfg.Redis.Timeout
		}
		redisClient = redis.NewClient(opt)
		defer redisClient.Close()
	}
	rateLimitService := ratelimit.NewRateLimitService(cfg.RateLimit, redisClient, structuredLogger)

	// Bearer tokens are only enforced when a secret is configured
	var tokens middleware.TokenValidator
	if cfg.Security.JWTSecret != "" {
		svc, err := jwt.NewJWTService(cfg.Security.JWTSecret, "exojobs")
		if err != nil {
			log.Fatalf("Failed to initialize JWT service: %v", err)
		}
		tokens = svc
	} else {
		structuredLogger.Warn(ctx, "JWT_SECRET not set; job routes are unauthenticated", nil)
	}

	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		MetricsPath:  cfg.Server.MetricsPath,
		Security:     cfg.Security,
	}, httpadapter.Routes{
		Jobs:      httpadapter.NewJobHandler(executor, enqueuer, cfg.Server.ExecutionMode, structuredLogger),
		Audits:    httpadapter.NewAuditHandler(core.Audits, structuredLogger),
		Auth:      middleware.NewAuthMiddleware(tokens, structuredLogger),
		RateLimit: middleware.NewRateLimitMiddleware(rateLimitService, cfg.RateLimit, structuredLogger, core.Metrics),
		Gatherer:  core.Registry,
		Health:    core.Audits.Ping,
	}, structuredLogger)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			structuredLogger.Error(ctx, "Server failed to start", err, map[string]interface{}{"addr": cfg.Addr()})
			os.Exit(1)
		}
	}

	// in-flight sync jobs get the shutdown window to finish and write their terminal record
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		structuredLogger.Error(ctx, "Server forced to shutdown", err, nil)
	}
	structuredLogger.Info(ctx, "Server exited", nil)
}
