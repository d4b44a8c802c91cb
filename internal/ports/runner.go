package ports

import (
	"context"
	"time"
)

// Credentials is the app-only identity used to open an Exchange Online session
type Credentials struct {
	AppID                 string
	TenantID              string
	CertificateThumbprint string
}

// CommandResult is what an external process left behind
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CommandRunner spawns one isolated session, runs commandBlock inside it and
// always tears the session down before the process exits.
type CommandRunner interface {
	ConnectAndRun(ctx context.Context, creds Credentials, commandBlock string) (CommandResult, error)
}

// Dispatcher maps a symbolic action name onto a concrete command invocation
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, params map[string]interface{}) (interface{}, error)
}
