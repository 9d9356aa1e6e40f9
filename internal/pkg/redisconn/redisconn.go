// Package redisconn provides the redis connection helper used by the
// push fan-out layer.
package redisconn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config contains redis connection configuration.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	ConnectRetries int
}

// Connect parses the connection URL and establishes a verified client,
// retrying the initial ping up to ConnectRetries times.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	retries := cfg.ConnectRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			slog.Info("connected to redis", "attempts", attempt)
			return client, nil
		} else {
			lastErr = err
			_ = client.Close()
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("redis connection cancelled: %w", ctx.Err())
			case <-time.After(time.Second):
			}
		}
	}

	return nil, fmt.Errorf("connect to redis after %d attempts: %w", retries, lastErr)
}
