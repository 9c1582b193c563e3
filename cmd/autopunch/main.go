package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/waqasmani/autopunch/internal/app"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/accounts"
	"github.com/waqasmani/autopunch/internal/modules/orchestrator"
	"github.com/waqasmani/autopunch/internal/shared/domain"
)

var (
	flags  = flag.NewFlagSet("autopunch", flag.ExitOnError)
	dryRun = flags.Bool("dry-run", false, "evaluate everything without submitting or recording")
)

func main() {
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s [flags] [command]\n\n", os.Args[0])
		fmt.Fprintf(flags.Output(), "Commands:\n")
		fmt.Fprintf(flags.Output(), "  run        Process every account once (default)\n")
		fmt.Fprintf(flags.Output(), "  serve      Run on the configured schedules and serve health endpoints\n")
		fmt.Fprintf(flags.Output(), "  validate   Check every account file and print the problems found\n")
		fmt.Fprintf(flags.Output(), "\n")
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	command := "run"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}
	if *dryRun {
		cfg.App.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var code int
	switch command {
	case "run":
		code = runOnce(cfg, logger)
	case "serve":
		code = serve(cfg, logger)
	case "validate":
		code = validateAccounts(os.Stdout, accounts.NewLoader(cfg.App.AccountsDir, logger))
	default:
		flags.Usage()
		code = 2
	}

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
	os.Exit(code)
}

func runOnce(cfg *config.Config, logger *observability.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Error(ctx, "Initialization failed", logger.Field("error", err.Error()))
		return 1
	}
	defer container.Close()

	batch, err := container.RunOnce(ctx)
	if err != nil {
		logger.Error(ctx, "Run failed", logger.Field("error", err.Error()))
		return 1
	}
	return orchestrator.ExitCode(batch.Results)
}

func serve(cfg *config.Config, logger *observability.Logger) int {
	ctx := context.Background()
	container, err := app.NewContainer(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Error(ctx, "Initialization failed", logger.Field("error", err.Error()))
		return 1
	}

	if err := app.NewServer(container).Start(); err != nil {
		logger.Error(ctx, "Server error", logger.Field("error", err.Error()))
		return 1
	}
	return 0
}

// validateAccounts prints one line per account file and returns 1 when any
// file is unusable.
func validateAccounts(w io.Writer, loader orchestrator.AccountSource) int {
	entries, err := loader.Load()
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no account files found")
		return 0
	}

	invalid := 0
	for _, e := range entries {
		if !e.Valid() {
			invalid++
			fmt.Fprintf(w, "FAIL  %-20s %v\n", e.ID, e.Err)
			continue
		}
		fmt.Fprintf(w, "ok    %-20s %s (%d channels)\n", e.ID, domain.MaskPhone(e.Account.Credentials.Phone), len(e.Account.Channels))
	}
	fmt.Fprintf(w, "%d of %d account files valid\n", len(entries)-invalid, len(entries))
	if invalid > 0 {
		return 1
	}
	return 0
}
