package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// promoteScript moves due entries of the delayed set onto the wait list
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, raw in ipairs(due) do
	if redis.call('ZREM', KEYS[1], raw) == 1 then
		redis.call('RPUSH', KEYS[2], raw)
	end
end
return #due
`)

// recoverScript returns everything a consumer still holds to the consuming end of the wait list
var recoverScript = redis.NewScript(`
local n = 0
while true do
	local raw = redis.call('LPOP', KEYS[1])
	if not raw then
		break
	end
	redis.call('RPUSH', KEYS[2], raw)
	n = n + 1
end
return n
`)

// RedisQueue is a JobQueue on Redis lists: producers LPUSH onto the wait
// list, consumers BRPOPLPUSH into their own active list, retries wait in a
// sorted set scored by due time.
type RedisQueue struct {
	client    *redis.Client
	ownClient bool
	config    Config
	logger    logger.Logger
	now       func() time.Time
}

// NewRedisQueue uses an existing client; Close leaves it open
func NewRedisQueue(client *redis.Client, config Config, log logger.Logger) *RedisQueue {
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisQueue{
		client: client,
		config: config.normalized(),
		logger: log,
		now:    time.Now,
	}
}

// OpenRedisQueue connects to redisURL and checks the connection
func OpenRedisQueue(ctx context.Context, redisURL string, config Config, log logger.Logger) (*RedisQueue, error) {
	// Parse Redis URL
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	pingTimeout := 5 * time.Second
	if config.DialTimeout > 0 {
		opt.DialTimeout = config.DialTimeout
		pingTimeout = config.DialTimeout
	}

	client := redis.NewClient(opt)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := NewRedisQueue(client, config, log)
	q.ownClient = true
	return q, nil
}

var _ ports.JobQueue = (*RedisQueue)(nil)

func (q *RedisQueue) key(parts ...string) string {
	k := q.config.Name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *RedisQueue) waitKey() string    { return q.key("wait") }
func (q *RedisQueue) delayedKey() string { return q.key("delayed") }
func (q *RedisQueue) failedKey() string  { return q.key("failed") }
func (q *RedisQueue) activeKey(consumer string) string {
	return q.key("active", consumer)
}

// Enqueue pushes req onto the wait list
func (q *RedisQueue) Enqueue(ctx context.Context, req domain.JobRequest) (domain.QueueHandle, error) {
	at := q.now()
	raw, msg, err := encodeMessage(req, at)
	if err != nil {
		return domain.QueueHandle{}, err
	}
	if err := q.client.LPush(ctx, q.waitKey(), raw).Err(); err != nil {
		return domain.QueueHandle{}, fmt.Errorf("failed to push job: %w", err)
	}
	return domain.QueueHandle{JobID: req.ID, MessageID: msg.ID, Queue: q.config.Name, EnqueuedAt: at}, nil
}

// EnqueueRaw pushes a payload exactly as given
func (q *RedisQueue) EnqueueRaw(ctx context.Context, raw string) error {
	if err := q.client.LPush(ctx, q.waitKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to push payload: %w", err)
	}
	return nil
}

// Dequeue promotes due retries and then blocks on the wait list
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, wait time.Duration) (*ports.Delivery, error) {
	pending, err := q.promoteDue(ctx)
	if err != nil {
		return nil, err
	}
	// retries still pending need another promotion pass soon
	if pending > 0 && wait > time.Second {
		wait = time.Second
	}
	if wait < time.Second {
		wait = time.Second
	}

	raw, err := q.client.BRPopLPush(ctx, q.waitKey(), q.activeKey(consumer), wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}
	return newDelivery(raw, q.config.Attempts), nil
}

// promoteDue returns how many retries are still waiting for their due time
func (q *RedisQueue) promoteDue(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.client, []string{q.delayedKey(), q.waitKey()}, now, 100).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	pending, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count delayed jobs: %w", err)
	}
	return pending, nil
}

// Ack removes the delivery from the consumer's active list
func (q *RedisQueue) Ack(ctx context.Context, consumer string, d *ports.Delivery) error {
	if err := q.client.LRem(ctx, q.activeKey(consumer), 1, d.Raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack removes the delivery and, while attempts remain, schedules it again
func (q *RedisQueue) Nack(ctx context.Context, consumer string, d *ports.Delivery, reason string) (bool, error) {
	retry := false
	var next string
	var due time.Time

	if d.DecodeErr == nil && d.Attempt < q.config.Attempts {
		raw, attempt, err := nextAttempt(d.Raw)
		if err == nil {
			retry = true
			next = raw
			due = q.now().Add(retryDelay(q.config.Backoff, attempt-1))
		}
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(consumer), 1, d.Raw)
		switch {
		case retry && !due.After(q.now()):
			pipe.RPush(ctx, q.waitKey(), next)
		case retry:
			pipe.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: float64(due.UnixMilli()), Member: next})
		case q.config.KeepFailed:
			pipe.LPush(ctx, q.failedKey(), d.Raw)
			pipe.LTrim(ctx, q.failedKey(), 0, failedListCap-1)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to nack job: %w", err)
	}

	if !retry {
		q.logger.Debug(ctx, "Job removed from queue", map[string]interface{}{
			"message_id": d.MessageID,
			"reason":     reason,
			"kept":       q.config.KeepFailed,
		})
	}
	return retry, nil
}

// Bury keeps the delivery on the failed list even when KeepFailed is off
func (q *RedisQueue) Bury(ctx context.Context, consumer string, d *ports.Delivery, reason string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(consumer), 1, d.Raw)
		pipe.LPush(ctx, q.failedKey(), d.Raw)
		pipe.LTrim(ctx, q.failedKey(), 0, failedListCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bury job: %w", err)
	}
	q.logger.Warn(ctx, "Job moved to failed list", map[string]interface{}{
		"message_id": d.MessageID,
		"reason":     reason,
	})
	return nil
}

// Recover moves the consumer's unfinished deliveries back to the wait list
func (q *RedisQueue) Recover(ctx context.Context, consumer string) (int, error) {
	n, err := recoverScript.Run(ctx, q.client, []string{q.activeKey(consumer), q.waitKey()}).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to recover jobs: %w", err)
	}
	return n, nil
}

// Stats reads the list sizes
func (q *RedisQueue) Stats(ctx context.Context, consumer string) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitKey())
	active := pipe.LLen(ctx, q.activeKey(consumer))
	delayed := pipe.ZCard(ctx, q.delayedKey())
	failed := pipe.LLen(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Waiting: int(waiting.Val()),
		Active:  int(active.Val()),
		Delayed: int(delayed.Val()),
		Failed:  int(failed.Val()),
	}, nil
}

// Close closes the client when the queue opened it
func (q *RedisQueue) Close() error {
	if q.ownClient {
		return q.client.Close()
	}
	return nil
}
