package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/database"
	"github.com/waqasmani/autopunch/internal/infrastructure/migrations"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
)

var (
	flags   = flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout = flags.Duration("timeout", 30*time.Second, "overall timeout for the migration command")
)

func main() {
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s [command] [arguments]\n\n", os.Args[0])
		fmt.Fprintf(flags.Output(), "Commands:\n")
		fmt.Fprintf(flags.Output(), "  up                      Apply all migrations\n")
		fmt.Fprintf(flags.Output(), "  up-by-one               Apply one migration\n")
		fmt.Fprintf(flags.Output(), "  down                    Roll back the last migration\n")
		fmt.Fprintf(flags.Output(), "  down-to <version>       Roll back migrations to specific version\n")
		fmt.Fprintf(flags.Output(), "  redo                    Reapply the last migration\n")
		fmt.Fprintf(flags.Output(), "  reset                   Roll back all migrations\n")
		fmt.Fprintf(flags.Output(), "  status                  Show migration status\n")
		fmt.Fprintf(flags.Output(), "  version                 Show applied version\n")
		fmt.Fprintf(flags.Output(), "\n")
		flags.PrintDefaults()
	}

	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		flags.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	switch cfg.Store.Driver {
	case database.DialectSQLite, database.DialectMySQL, database.DialectPostgres:
	default:
		log.Fatalf("Store driver %q has no schema to migrate", cfg.Store.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(ctx, &cfg.Store, nil, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	command := args[0]
	switch command {
	case "up", "up-by-one", "down", "redo", "reset", "status", "version":
		err = migrations.Run(ctx, db.DB, cfg.Store.Driver, command)
	case "down-to":
		if len(args) < 2 {
			log.Fatal("down-to command requires a version number")
		}
		var version int64
		version, err = parseVersion(args[1])
		if err != nil {
			log.Fatalf("Invalid version: %v", err)
		}
		err = migrations.Run(ctx, db.DB, cfg.Store.Driver, command, fmt.Sprint(version))
	default:
		log.Fatalf("Unknown command: %s", command)
	}

	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func parseVersion(str string) (int64, error) {
	var version int64
	_, err := fmt.Sscanf(str, "%d", &version)
	return version, err
}
