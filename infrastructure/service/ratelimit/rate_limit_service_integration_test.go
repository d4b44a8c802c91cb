//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tenantdesk/exojobs/internal/config"
)

func TestRateLimitService_FixedWindow(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	defer client.Close()

	svc := NewRateLimitService(config.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Second}, client, nil)

	for i := 0; i < 2; i++ {
		allowed, err := svc.CheckLimit(ctx, "jobs:ip:1", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := svc.CheckLimit(ctx, "jobs:ip:1", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	attempts, err := svc.GetAttempts(ctx, "jobs:ip:1")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	require.NoError(t, svc.Block(ctx, "jobs:ip:1", time.Second, "test"))
	blocked, err := svc.IsBlocked(ctx, "jobs:ip:1")
	require.NoError(t, err)
	assert.True(t, blocked)

	require.Eventually(t, func() bool {
		allowed, err := svc.CheckLimit(ctx, "jobs:ip:1", 2, time.Second)
		return err == nil && allowed
	}, 5*time.Second, 200*time.Millisecond)
}
