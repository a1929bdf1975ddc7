package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/enrollease/enrollease-api/pkg/config"
)

// Options maps cfg onto client options. Pub/sub subscribers for the progress stream hold a
// connection each, so the pool is never smaller than the go-redis default.
func Options(cfg config.RedisConfig, clientName string) *redis.Options {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   clientName,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts
}

// NewRedis returns the client shared by the snapshot feed, drafts, reset tokens and the catalog
// cache, retrying the first ping for up to cfg.StartupWait.
func NewRedis(ctx context.Context, cfg config.RedisConfig, clientName string) (*redis.Client, error) {
	client := redis.NewClient(Options(cfg, clientName))

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}

	var err error
	if cfg.StartupWait <= 0 {
		err = ping()
	} else {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 250 * time.Millisecond
		policy.MaxInterval = 5 * time.Second
		policy.MaxElapsedTime = cfg.StartupWait
		err = backoff.Retry(ping, backoff.WithContext(policy, ctx))
	}
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", client.Options().Addr, err)
	}

	return client, nil
}
