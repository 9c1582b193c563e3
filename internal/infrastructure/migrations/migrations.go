// Package migrations applies the state store schema with goose from SQL
// files embedded in the binary.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

const (
	Dir       = "sql"
	TableName = "goose_db_version"
)

// goose keeps dialect and filesystem in package globals.
var mu sync.Mutex

// Dialect maps a database/sql driver name to the goose dialect.
func Dialect(driver string) (string, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "pgx":
		return "postgres", nil
	default:
		return "", fmt.Errorf("no migration dialect for driver %q", driver)
	}
}

func prepare(driver string) error {
	dialect, err := Dialect(driver)
	if err != nil {
		return err
	}
	goose.SetBaseFS(embedded)
	goose.SetTableName(TableName)
	goose.SetLogger(goose.NopLogger())
	return goose.SetDialect(dialect)
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, driver string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := prepare(driver); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, Dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Run executes one of the goose maintenance commands against the embedded
// migrations.
func Run(ctx context.Context, db *sql.DB, driver, command string, args ...string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := prepare(driver); err != nil {
		return err
	}
	if command == "status" {
		goose.SetLogger(log.Default())
	}
	return goose.RunContext(ctx, command, db, Dir, args...)
}

// Version returns the currently applied schema version.
func Version(ctx context.Context, db *sql.DB, driver string) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	if err := prepare(driver); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
