package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/config"
)

// hitScript increments the counter and starts the window on the first hit
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimitService counts requests per key in fixed windows
type RateLimitService interface {
	// CheckLimit counts one request against key and reports whether it is within limit
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Block(ctx context.Context, key string, duration time.Duration, reason string) error
	IsBlocked(ctx context.Context, key string) (bool, error)
	GetAttempts(ctx context.Context, key string) (int, error)
}

type rateLimitService struct {
	redisClient *redis.Client
	logger      logger.Logger
	prefix      string
}

// NewRateLimitService returns a Redis-backed limiter, or a no-op one when disabled
func NewRateLimitService(cfg config.RateLimitConfig, client *redis.Client, log logger.Logger) RateLimitService {
	if log == nil {
		log = logger.NewNop()
	}
	if !cfg.Enabled || client == nil {
		log.Info(context.Background(), "Rate limiting disabled", nil)
		return &noopRateLimitService{}
	}

	log.Info(context.Background(), "Rate limiting service initialized", map[string]interface{}{
		"requests": cfg.Requests,
		"window":   cfg.Window.String(),
		"block":    cfg.Block.String(),
	})

	return &rateLimitService{
		redisClient: client,
		logger:      log,
		prefix:      "ratelimit",
	}
}

func (s *rateLimitService) counterKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func (s *rateLimitService) blockKey(key string) string {
	return fmt.Sprintf("%s:blocked:%s", s.prefix, key)
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := hitScript.Run(ctx, s.redisClient, []string{s.counterKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		s.logger.Error(ctx, "Failed to increment rate limit counter", err, map[string]interface{}{"key": key})
		return true, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	underLimit := count <= int64(limit)

	s.logger.Debug(ctx, "Rate limit check", map[string]interface{}{
		"key":         key,
		"current":     count,
		"limit":       limit,
		"under_limit": underLimit,
	})

	return underLimit, nil
}

func (s *rateLimitService) Block(ctx context.Context, key string, duration time.Duration, reason string) error {
	blockKey := s.blockKey(key)

	blockData := map[string]interface{}{
		"reason":         reason,
		"blocked_at":     time.Now().Unix(),
		"duration":       duration.Seconds(),
		"correlation_id": logger.CorrelationIDFromContext(ctx),
	}

	pipeline := s.redisClient.TxPipeline()
	pipeline.HSet(ctx, blockKey, blockData)
	pipeline.Expire(ctx, blockKey, duration)
	if _, err := pipeline.Exec(ctx); err != nil {
		s.logger.Error(ctx, "Failed to block key", err, map[string]interface{}{"key": key})
		return fmt.Errorf("failed to block key: %w", err)
	}

	s.logger.Warn(ctx, "Key blocked due to rate limit exceeded", map[string]interface{}{
		"key":      key,
		"duration": duration.String(),
		"reason":   reason,
	})

	return nil
}

func (s *rateLimitService) IsBlocked(ctx context.Context, key string) (bool, error) {
	exists, err := s.redisClient.Exists(ctx, s.blockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check block status: %w", err)
	}
	return exists > 0, nil
}

func (s *rateLimitService) GetAttempts(ctx context.Context, key string) (int, error) {
	count, err := s.redisClient.Get(ctx, s.counterKey(key)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get attempts: %w", err)
	}
	return count, nil
}

// noopRateLimitService is used when rate limiting is disabled
type noopRateLimitService struct{}

func (n *noopRateLimitService) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (n *noopRateLimitService) Block(ctx context.Context, key string, duration time.Duration, reason string) error {
	return nil
}

func (n *noopRateLimitService) IsBlocked(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (n *noopRateLimitService) GetAttempts(ctx context.Context, key string) (int, error) {
	return 0, nil
}
