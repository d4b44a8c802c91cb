package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenantdesk/exojobs/internal/app"
	"github.com/tenantdesk/exojobs/internal/usecase"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	structuredLogger := app.NewLogger(cfg, "exojobs-worker", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(ctx, cfg, structuredLogger)
	if err != nil {
		structuredLogger.Error(ctx, "Failed to open audit store", err, nil)
		log.Fatalf("Failed to open audit store: %v", err)
	}
	defer core.Close()

	q, err := core.OpenQueue(ctx)
	if err != nil {
		structuredLogger.Error(ctx, "Failed to connect to job queue", err, map[string]interface{}{
			"queue": cfg.Queue.Name,
		})
		log.Fatalf("Failed to connect to job queue: %v", err)
	}
	defer q.Close()

	var metricsServer *http.Server
	if cfg.Queue.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Queue.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				structuredLogger.Error(ctx, "Metrics server failed", err, map[string]interface{}{"addr": cfg.Queue.MetricsAddr})
			}
		}()
	}

	worker := usecase.NewWorker(q, core.Attempts, core.Audits, usecase.WorkerConfig{
		Consumer:    cfg.Queue.Consumer,
		Concurrency: cfg.Queue.Concurrency,
		PollWait:    cfg.Queue.PollWait,
	}, structuredLogger, core.Metrics)

	structuredLogger.Info(ctx, "Worker starting", map[string]interface{}{
		"queue":       cfg.Queue.Name,
		"consumer":    cfg.Queue.Consumer,
		"concurrency": cfg.Queue.Concurrency,
		"attempts":    cfg.Queue.Attempts,
	})

	runErr := worker.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	if runErr != nil {
		structuredLogger.Error(context.Background(), "Worker stopped with error", runErr, nil)
		os.Exit(1)
	}
	structuredLogger.Info(context.Background(), "Worker exited", nil)
}
