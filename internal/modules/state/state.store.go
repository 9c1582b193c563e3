// Package state persists which submissions have completed for each account
// and period, and caches authenticated sessions between runs.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/database"
	"github.com/waqasmani/autopunch/internal/infrastructure/migrations"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store records completed submissions. Keys are scoped by account so runs
// for different accounts never touch the same record.
type Store interface {
	HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error)
	// RecordSubmitted is idempotent on (account, kind, period); the first
	// write wins.
	RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error
	SessionCache
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// SessionCache persists sessions across runs. LoadSession returns nil
// without error when nothing is cached.
type SessionCache interface {
	LoadSession(ctx context.Context, accountID string) (*domain.Session, error)
	SaveSession(ctx context.Context, accountID string, session domain.Session) error
	DeleteSession(ctx context.Context, accountID string) error
}

// Open builds the store selected by STORE_DRIVER. Dry runs always use the
// in-memory store.
func Open(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (Store, error) {
	if cfg.App.DryRun {
		return NewMemoryStore(), nil
	}

	switch cfg.Store.Driver {
	case BackendMemory:
		return NewMemoryStore(), nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStore, "redis connection failed")
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Store.RecordTTL, metrics), nil

	default:
		db, err := database.Open(ctx, &cfg.Store, metrics, logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStore, "database connection failed")
		}
		if cfg.Store.AutoMigrate {
			if err := migrations.Up(ctx, db.DB, cfg.Store.Driver); err != nil {
				db.Close()
				return nil, errors.Wrap(err, errors.ErrCodeStore, "schema migration failed")
			}
		}
		return NewSQLStore(db), nil
	}
}

func observe(metrics *observability.Metrics, backend, operation string, start time.Time, err error) {
	if metrics == nil {
		return
	}
	metrics.StoreOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}
