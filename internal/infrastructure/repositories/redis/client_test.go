package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"vidswarm/pkg/config"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Address = "redis.internal:6379"
	cfg.Redis.DB = 3
	cfg.Redis.PoolSize = 7

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "redis.internal:6379", opts.Address)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.PingTimeout)
	assert.True(t, opts.Retry.Enabled)
	assert.Equal(t, 2, opts.Retry.MaxAttempts)
}

func TestConnect_Unreachable(t *testing.T) {
	r := retry.DefaultConfig()
	r.MaxAttempts = 1
	r.InitialDelay = time.Millisecond
	r.Jitter = false

	client, err := Connect(context.Background(), Options{
		Address:     closedAddr(t),
		PoolSize:    1,
		PingTimeout: 200 * time.Millisecond,
		Retry:       r,
	}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestConnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, Options{Address: closedAddr(t), PoolSize: 1, Retry: retry.DefaultConfig()}, nil)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
