// Package app wires configuration into the concrete adapters shared by the
// server, worker and jobctl binaries.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/infrastructure/service/metrics"
	"github.com/tenantdesk/exojobs/internal/adapter/persistence"
	"github.com/tenantdesk/exojobs/internal/adapter/powershell"
	"github.com/tenantdesk/exojobs/internal/adapter/queue"
	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/usecase"
)

// Core holds what every entry point needs to run jobs
type Core struct {
	Config   *config.Config
	Logger   logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Audits   *persistence.SQLAuditRepository
	Attempts *usecase.AttemptRunner
}

// LoadConfig loads and validates configuration
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the structured logger for a service. A nil out means stdout.
func NewLogger(cfg *config.Config, service string, out io.Writer) logger.Logger {
	return logger.NewStructuredLogger(logger.LoggerConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: service,
		Output:      out,
	})
}

// NewCore opens the audit store and builds the attempt pipeline
func NewCore(ctx context.Context, cfg *config.Config, log logger.Logger) (*Core, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	audits, err := persistence.OpenAuditRepository(ctx, cfg.Audit)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "Audit store opened", map[string]interface{}{"driver": cfg.Audit.Driver})

	if missing := config.MissingCredentials(cfg.Credentials()); len(missing) > 0 {
		log.Warn(ctx, "Exchange credentials incomplete; jobs will fail until they are set", map[string]interface{}{
			"missing": missing,
		})
	}

	runner := powershell.NewRunner(powershell.Config{
		Interpreter: cfg.Exchange.Interpreter,
		Args:        cfg.Exchange.InterpreterArgs,
		Timeout:     cfg.Exchange.CommandTimeout,
	}, log)
	dispatcher := usecase.NewExchangeDispatcher(usecase.DefaultActions(), runner, config.EnvCredentials, log)

	return &Core{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  m,
		Audits:   audits,
		Attempts: usecase.NewAttemptRunner(audits, dispatcher, log, m),
	}, nil
}

// OpenQueue connects to the Redis job queue
func (c *Core) OpenQueue(ctx context.Context) (*queue.RedisQueue, error) {
	return queue.OpenRedisQueue(ctx, c.Config.Redis.URL, QueueConfig(c.Config), c.Logger)
}

// QueueConfig maps configuration onto the queue retry policy
func QueueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		Name:        cfg.Queue.Name,
		Attempts:    cfg.Queue.Attempts,
		Backoff:     cfg.Queue.Backoff,
		KeepFailed:  cfg.Queue.KeepFailed,
		DialTimeout: cfg.Redis.Timeout,
	}
}

// Close releases the audit store
func (c *Core) Close() error {
	return c.Audits.Close()
}
