//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idshield/internal/platform/config"
	"idshield/pkg/testutil/containers"
)

func TestNewFromURL(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()

	client, err := New(ctx, config.RedisConfig{URL: rc.URL, PoolSize: 2, DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.NoError(t, client.Health(ctx))
}

func TestNewNotConfigured(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}
