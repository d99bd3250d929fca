package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"mint/backend/internal/logging"
)

// Migrator is implemented by stores that own a database schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// connectAttempts bounds the pings made while the database comes up.
const connectAttempts = 5

// Open returns the store selected by driver. For "postgres" the pool is pinged with
// exponential backoff before returning. The returned func releases the store.
func Open(ctx context.Context, driver, dsn string, logger *logging.Logger) (Repository, func(), error) {
	switch driver {
	case "memory":
		return NewMemoryStore(logger), func() {}, nil
	case "postgres", "":
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", driver)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	attempt := 0
	ping := func() error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not reachable", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(b, connectAttempts-1), ctx)); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresStore(pool, logger), pool.Close, nil
}
