package usecase

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

const tracerName = "github.com/tenantdesk/exojobs/internal/usecase"

// CredentialsProvider returns the Exchange identity for the next dispatch
type CredentialsProvider func() ports.Credentials

// ExchangeDispatcher resolves an action in the registry and runs it through the command runner
type ExchangeDispatcher struct {
	registry    *ActionRegistry
	runner      ports.CommandRunner
	credentials CredentialsProvider
	logger      logger.Logger
	tracer      trace.Tracer
}

// NewExchangeDispatcher creates a dispatcher. A nil credentials provider reads the environment.
func NewExchangeDispatcher(registry *ActionRegistry, runner ports.CommandRunner, credentials CredentialsProvider, log logger.Logger) *ExchangeDispatcher {
	if registry == nil {
		registry = DefaultActions()
	}
	if credentials == nil {
		credentials = config.EnvCredentials
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ExchangeDispatcher{
		registry:    registry,
		runner:      runner,
		credentials: credentials,
		logger:      log,
		tracer:      otel.Tracer(tracerName),
	}
}

var _ ports.Dispatcher = (*ExchangeDispatcher)(nil)

// Dispatch runs one action. Unknown actions, bad params and missing
// credentials fail before any process is spawned.
func (d *ExchangeDispatcher) Dispatch(ctx context.Context, action string, params map[string]interface{}) (result interface{}, err error) {
	ctx, span := d.tracer.Start(ctx, "exchange.dispatch", trace.WithAttributes(attribute.String("exojobs.action", action)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := d.registry.Lookup(action)
	if !ok {
		return nil, domain.ErrUnsupportedAction(action)
	}

	commandBlock, err := entry.Build(params)
	if err != nil {
		return nil, err
	}

	creds := d.credentials()
	if missing := config.MissingCredentials(creds); len(missing) > 0 {
		return nil, domain.ErrConfiguration(missing...)
	}

	out, err := d.runner.ConnectAndRun(ctx, creds, commandBlock)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("exojobs.exit_code", out.ExitCode),
		attribute.Int64("exojobs.duration_ms", out.Duration.Milliseconds()),
	)

	parsed, err := entry.Parse(out.Stdout)
	if err != nil {
		parseErr := domain.ErrResultParse(action, err)
		d.logger.Warn(ctx, "Returning raw output", map[string]interface{}{
			"action": action,
			"error":  parseErr.Error(),
		})
		return strings.TrimSpace(out.Stdout), nil
	}

	return parsed, nil
}
