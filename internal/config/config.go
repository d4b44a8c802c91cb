package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tenantdesk/exojobs/internal/ports"
)

// Execution modes for POST /api/jobs
const (
	ModeSync   = "sync"
	ModeQueued = "queued"
)

// Audit store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Audit     AuditConfig     `json:"audit"`
	Redis     RedisConfig     `json:"redis"`
	Queue     QueueConfig     `json:"queue"`
	Exchange  ExchangeConfig  `json:"exchange"`
	Logging   LoggingConfig   `json:"logging"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port          string        `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	IdleTimeout   time.Duration `json:"idle_timeout"`
	Environment   string        `json:"environment"`
	ExecutionMode string        `json:"execution_mode"`
	MetricsPath   string        `json:"metrics_path"`
}

// AuditConfig selects and configures the audit store
type AuditConfig struct {
	Driver string `json:"driver"`
	// Path is the SQLite database file
	Path string `json:"path"`
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL    string        `json:"-"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	URL     string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// QueueConfig represents job queue configuration
type QueueConfig struct {
	Name        string        `json:"name"`
	Attempts    int           `json:"attempts"`
	Backoff     time.Duration `json:"backoff"`
	Concurrency int           `json:"concurrency"`
	PollWait    time.Duration `json:"poll_wait"`
	KeepFailed  bool          `json:"keep_failed"`
	Consumer    string        `json:"consumer"`
	// MetricsAddr is where a worker process serves /metrics; empty disables it
	MetricsAddr string `json:"metrics_addr"`
}

// ExchangeConfig carries the app-only identity and the interpreter used to reach Exchange Online
type ExchangeConfig struct {
	AppID                 string        `json:"app_id"`
	TenantID              string        `json:"tenant_id"`
	CertificateThumbprint string        `json:"-"`
	Interpreter           string        `json:"interpreter"`
	InterpreterArgs       []string      `json:"interpreter_args"`
	CommandTimeout        time.Duration `json:"command_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWTSecret            string   `json:"-"`
	CORSEnabled          bool     `json:"cors_enabled"`
	CORSAllowedOrigins   []string `json:"cors_allowed_origins"`
	CORSAllowCredentials bool     `json:"cors_allow_credentials"`
}

// RateLimitConfig limits how often a client may trigger jobs
type RateLimitConfig struct {
	Enabled  bool          `json:"enabled"`
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
	Block    time.Duration `json:"block"`
}

// Load loads configuration from environment variables and defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "3001"),
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:   getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:  getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:   getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:   getEnv("ENVIRONMENT", "development"),
			ExecutionMode: strings.ToLower(getEnv("JOB_EXECUTION_MODE", ModeSync)),
			MetricsPath:   getEnv("METRICS_PATH", "/metrics"),
		},
		Audit: AuditConfig{
			Driver:         strings.ToLower(getEnv("AUDIT_DRIVER", DriverSQLite)),
			Path:           getEnv("AUDIT_DB_PATH", "./data/audit.db"),
			DatabaseURL:    getEnv("AUDIT_DATABASE_URL", ""),
			MaxConnections: getEnvInt("AUDIT_DB_MAX_CONNECTIONS", 10),
			MaxIdleTime:    getEnvDuration("AUDIT_DB_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Timeout: getEnvDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Queue: QueueConfig{
			Name:        getEnv("QUEUE_NAME", "exchange-jobs"),
			Attempts:    getEnvInt("QUEUE_ATTEMPTS", 3),
			Backoff:     getEnvDuration("QUEUE_BACKOFF", 2*time.Second),
			Concurrency: getEnvInt("QUEUE_CONCURRENCY", 1),
			PollWait:    getEnvDuration("QUEUE_POLL_WAIT", 5*time.Second),
			KeepFailed:  getEnvBool("QUEUE_KEEP_FAILED", false),
			Consumer:    getEnv("QUEUE_CONSUMER", defaultConsumer()),
			MetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9101"),
		},
		Exchange: ExchangeConfig{
			AppID:                 getEnv("EXO_APP_ID", ""),
			TenantID:              getEnv("EXO_TENANT_ID", ""),
			CertificateThumbprint: getEnv("EXO_CERT_THUMBPRINT", ""),
			Interpreter:           getEnv("EXO_INTERPRETER", "pwsh"),
			InterpreterArgs:       getEnvSlice("EXO_INTERPRETER_ARGS", []string{"-NoLogo", "-NoProfile", "-NonInteractive"}),
			CommandTimeout:        getEnvDuration("EXO_COMMAND_TIMEOUT", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			JWTSecret:            getEnv("JWT_SECRET", ""),
			CORSEnabled:          getEnvBool("CORS_ENABLED", true),
			CORSAllowedOrigins:   getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			CORSAllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Block:    getEnvDuration("RATE_LIMIT_BLOCK", 5*time.Minute),
		},
	}

	return config, nil
}

// Validate checks structural configuration only. Missing Exchange
// credentials are reported per job, not at startup.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Server.ExecutionMode {
	case ModeSync, ModeQueued:
	default:
		return fmt.Errorf("unknown JOB_EXECUTION_MODE %q (expected %s or %s)", c.Server.ExecutionMode, ModeSync, ModeQueued)
	}

	switch c.Audit.Driver {
	case DriverSQLite:
		if c.Audit.Path == "" {
			return fmt.Errorf("AUDIT_DB_PATH is required for the sqlite audit store")
		}
	case DriverPostgres:
		if c.Audit.DatabaseURL == "" {
			return fmt.Errorf("AUDIT_DATABASE_URL is required for the postgres audit store")
		}
	default:
		return fmt.Errorf("unknown AUDIT_DRIVER %q", c.Audit.Driver)
	}

	if c.Queue.Attempts < 1 {
		return fmt.Errorf("QUEUE_ATTEMPTS must be at least 1")
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1")
	}
	if c.Exchange.CommandTimeout < 0 {
		return fmt.Errorf("EXO_COMMAND_TIMEOUT must not be negative")
	}

	if c.IsProduction() && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Credentials returns the Exchange app-only identity
func (c *Config) Credentials() ports.Credentials {
	return ports.Credentials{
		AppID:                 c.Exchange.AppID,
		TenantID:              c.Exchange.TenantID,
		CertificateThumbprint: c.Exchange.CertificateThumbprint,
	}
}

// EnvCredentials reads the Exchange identity from the environment at call time
func EnvCredentials() ports.Credentials {
	return ports.Credentials{
		AppID:                 os.Getenv("EXO_APP_ID"),
		TenantID:              os.Getenv("EXO_TENANT_ID"),
		CertificateThumbprint: os.Getenv("EXO_CERT_THUMBPRINT"),
	}
}

// MissingCredentials lists the environment variables that still need a value
func MissingCredentials(creds ports.Credentials) []string {
	var missing []string
	if strings.TrimSpace(creds.AppID) == "" {
		missing = append(missing, "EXO_APP_ID")
	}
	if strings.TrimSpace(creds.TenantID) == "" {
		missing = append(missing, "EXO_TENANT_ID")
	}
	if strings.TrimSpace(creds.CertificateThumbprint) == "" {
		missing = append(missing, "EXO_CERT_THUMBPRINT")
	}
	return missing
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
