package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/database/errors"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/infrastructure/retry"
)

const (
	DialectSQLite   = "sqlite3"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

type DB struct {
	*sql.DB
	Dialect     string
	retryConfig *retry.Config
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// RetryConfig retries only driver errors classified as transient.
func RetryConfig(override *config.RetryConfig) *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialInterval = 100 * time.Millisecond
	cfg.MaxInterval = 2 * time.Second
	cfg.ShouldRetry = errors.IsTransientError
	cfg.Classify = func(err error) string { return string(errors.ClassifyError(err)) }
	return cfg.MergeWith(override)
}

// Open connects to the configured state store database, retrying transient
// connection failures, and verifies the connection with a ping.
func Open(ctx context.Context, cfg *config.StoreConfig, metrics *observability.Metrics, logger *observability.Logger) (*DB, error) {
	switch cfg.Driver {
	case DialectSQLite, DialectMySQL, DialectPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	var db *sql.DB
	retryCfg := RetryConfig(&cfg.Retry)
	connectCfg := *retryCfg
	// A refused connection at startup is worth retrying even when the
	// driver reports it generically.
	connectCfg.ShouldRetry = func(err error) bool { return true }

	err := retry.Do(ctx, "db_connection", func(attempt uint64) error {
		var connectErr error
		db, connectErr = sql.Open(cfg.Driver, cfg.DSN)
		if connectErr != nil {
			return connectErr
		}

		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if connectErr = db.PingContext(pingCtx); connectErr != nil {
			_ = db.Close()
			return fmt.Errorf("failed to ping database: %w", connectErr)
		}

		return nil
	}, &connectCfg, metrics, logger)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retryCfg.MaxRetries, err)
	}

	return New(db, cfg.Driver, retryCfg, metrics, logger), nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect string, retryCfg *retry.Config, metrics *observability.Metrics, logger *observability.Logger) *DB {
	if retryCfg == nil {
		retryCfg = RetryConfig(nil)
	}
	return &DB{
		DB:          db,
		Dialect:     dialect,
		retryConfig: retryCfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Rebind rewrites "?" placeholders for dialects that use positional ones.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	query = db.Rebind(query)

	err := retry.Do(ctx, "exec", func(attempt uint64) error {
		start := time.Now()
		var execErr error
		result, execErr = db.DB.ExecContext(ctx, query, args...)
		db.observe("exec", time.Since(start), execErr)

		if execErr != nil {
			errors.LogDBError(ctx, db.logger, execErr, "exec", query)
		}
		return execErr
	}, db.retryConfig, db.metrics, db.logger)

	return result, err
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	query = db.Rebind(query)

	err := retry.Do(ctx, "query", func(attempt uint64) error {
		start := time.Now()
		var queryErr error
		rows, queryErr = db.DB.QueryContext(ctx, query, args...)
		db.observe("query", time.Since(start), queryErr)

		if queryErr != nil {
			errors.LogDBError(ctx, db.logger, queryErr, "query", query)
		}
		return queryErr
	}, db.retryConfig, db.metrics, db.logger)

	return rows, err
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

func (db *DB) observe(operation string, duration time.Duration, err error) {
	if db.metrics == nil {
		return
	}
	db.metrics.StoreOperationDuration.WithLabelValues(db.Dialect, operation).Observe(duration.Seconds())
	if err != nil {
		db.metrics.StoreErrors.WithLabelValues(db.Dialect, operation).Inc()
	}
}

func (db *DB) Close() error {
	return db.DB.Close()
}
