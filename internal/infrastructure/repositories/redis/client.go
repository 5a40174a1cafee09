package redis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vidswarm/pkg/config"
	apperrors "vidswarm/pkg/errors"
	"vidswarm/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects the Redis deployment that carries registry events between
// tracker and peer processes.
type Options struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration
	Retry       retry.Config
}

func OptionsFromConfig(cfg *config.Config) Options {
	r := retry.DefaultConfig()
	r.MaxAttempts = 2
	return Options{
		Address:     cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		PingTimeout: 2 * time.Second,
		Retry:       r,
	}
}

func (o Options) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Address,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
		DialTimeout:  o.PingTimeout,
		ReadTimeout:  o.PingTimeout,
		WriteTimeout: o.PingTimeout,
	})
}

// Connect pings Redis until it answers or the retries run out. The error is a
// SERVICE_UNAVAILABLE AppError, so callers can fall back to local events.
func Connect(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*redis.Client, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}
	client := opts.client()

	attempts := 0
	err := retry.Retry(ctx, opts.Retry, func() error {
		attempts++
		pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable,
			fmt.Sprintf("redis at %s unreachable after %d attempts", opts.Address, attempts),
			http.StatusServiceUnavailable)
	}

	if logger != nil {
		logger.Infow("registry event bus connected",
			"address", opts.Address,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
			"attempts", attempts,
		)
	}
	return client, nil
}

// Close accepts a nil client.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
