package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/enrollease/enrollease-api/pkg/config"
)

// DSN renders cfg as a postgres URL. Credentials are escaped so passwords may contain any character.
func DSN(cfg config.DatabaseConfig) string {
	query := url.Values{}
	if cfg.SSLMode != "" {
		query.Set("sslmode", cfg.SSLMode)
	}
	if cfg.ApplicationName != "" {
		query.Set("application_name", cfg.ApplicationName)
	}
	if cfg.ConnectTimeout > 0 {
		// lib/pq takes whole seconds; anything below one second rounds up.
		secs := int(cfg.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		query.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewPostgres opens the document store database. The first ping is retried with backoff for up
// to cfg.StartupWait so the API can start alongside its database container.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	err = waitFor(ctx, cfg.StartupWait, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect document store %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return db, nil
}

// waitFor retries ping until it succeeds, ctx ends or wait elapses. A zero wait tries once.
func waitFor(ctx context.Context, wait time.Duration, ping func(context.Context) error) error {
	if wait <= 0 {
		return ping(ctx)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = wait

	return backoff.Retry(func() error { return ping(ctx) }, backoff.WithContext(policy, ctx))
}
