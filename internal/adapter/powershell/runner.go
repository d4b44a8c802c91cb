package powershell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// Config describes how the interpreter is launched
type Config struct {
	Interpreter string
	Args        []string
	// Timeout kills the process after the given duration; 0 disables it
	Timeout time.Duration
	// Env replaces the inherited environment when non-nil
	Env []string
}

// DefaultConfig launches PowerShell 7 without profile or prompts
func DefaultConfig() Config {
	return Config{
		Interpreter: "pwsh",
		Args:        []string{"-NoLogo", "-NoProfile", "-NonInteractive"},
	}
}

// Runner spawns one PowerShell process per call
type Runner struct {
	config Config
	logger logger.Logger
}

// NewRunner creates a Runner. A nil logger discards output.
func NewRunner(config Config, log logger.Logger) *Runner {
	if config.Interpreter == "" {
		config.Interpreter = DefaultConfig().Interpreter
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{config: config, logger: log}
}

var _ ports.CommandRunner = (*Runner)(nil)

// ConnectAndRun opens an Exchange Online session, runs commandBlock and
// disconnects, all inside a single interpreter process.
func (r *Runner) ConnectAndRun(ctx context.Context, creds ports.Credentials, commandBlock string) (ports.CommandResult, error) {
	script, err := BuildSessionScript(creds, commandBlock)
	if err != nil {
		return ports.CommandResult{ExitCode: -1}, &domain.JobError{
			Code:    domain.ErrCodeConfiguration,
			Message: "invalid Exchange credentials",
			Cause:   err,
		}
	}

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	} else {
		r.logger.Warn(ctx, "PowerShell command has no timeout", map[string]interface{}{
			"interpreter": r.config.Interpreter,
		})
	}

	args := make([]string, 0, len(r.config.Args)+2)
	args = append(args, r.config.Args...)
	args = append(args, "-EncodedCommand", EncodeCommand(script))

	cmd := exec.CommandContext(runCtx, r.config.Interpreter, args...)
	if r.config.Env != nil {
		cmd.Env = r.config.Env
	}
	// children that inherited the pipes must not keep Wait blocked after a kill
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	result := ports.CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if runErr == nil {
		result.ExitCode = 0
		if stderr.Len() > 0 {
			r.logger.Warn(ctx, "PowerShell wrote to stderr", map[string]interface{}{
				"stderr":      truncate(result.Stderr, 2048),
				"duration_ms": result.Duration.Milliseconds(),
			})
		}
		return result, nil
	}

	if r.config.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.ExitCode = -1
		return result, domain.ErrTimedOut(r.config.Timeout, result.Stdout, result.Stderr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 {
		result.ExitCode = exitErr.ExitCode()
		return result, domain.ErrCommandFailed(result.ExitCode, result.Stdout, result.Stderr, nil)
	}

	// never started, or killed by a signal
	result.ExitCode = -1
	cause := runErr
	if ctx.Err() != nil {
		cause = ctx.Err()
	}
	return result, domain.ErrCommandFailed(-1, result.Stdout, result.Stderr, cause)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
