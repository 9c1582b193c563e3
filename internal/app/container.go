package app

import (
	"context"
	"fmt"

	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/content"
	"github.com/waqasmani/autopunch/internal/infrastructure/gateway"
	"github.com/waqasmani/autopunch/internal/infrastructure/holiday"
	"github.com/waqasmani/autopunch/internal/infrastructure/images"
	"github.com/waqasmani/autopunch/internal/infrastructure/notify"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/accounts"
	"github.com/waqasmani/autopunch/internal/modules/clockin"
	"github.com/waqasmani/autopunch/internal/modules/health"
	"github.com/waqasmani/autopunch/internal/modules/orchestrator"
	"github.com/waqasmani/autopunch/internal/modules/report"
	"github.com/waqasmani/autopunch/internal/modules/session"
	"github.com/waqasmani/autopunch/internal/modules/state"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"go.uber.org/zap"
)

const Version = "1.0.0"

type Container struct {
	Config        *config.Config
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
	AuditLogger   *observability.AuditLogger
	Store         state.Store
	Gateway       *gateway.Client
	Holidays      *holiday.Provider
	Images        *images.DirPool
	Notifier      *notify.Dispatcher
	Accounts      *accounts.Loader
	Orchestrator  *orchestrator.Orchestrator
	HealthHandler *health.Handler
}

// NewContainer wires every component. Only an unreachable state store is
// fatal.
func NewContainer(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Container, error) {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	var auditLogger *observability.AuditLogger
	if cfg.AuditLog.Enabled && cfg.AuditLog.Path != "" {
		dedicatedAuditLogger, err := observability.NewDedicatedAuditLogger(
			cfg.AuditLog.Path,
			cfg.AuditLog.Format,
		)
		if err != nil {
			logger.Error(ctx, "Failed to initialize dedicated audit logger, falling back to main logger",
				zap.Error(err),
				zap.String("path", cfg.AuditLog.Path),
			)
			auditLogger = observability.NewAuditLogger(logger)
		} else {
			logger.Info(ctx, "Audit logging enabled with dedicated file",
				zap.String("path", cfg.AuditLog.Path),
				zap.String("format", cfg.AuditLog.Format),
			)
			auditLogger = dedicatedAuditLogger
		}
	} else if cfg.AuditLog.Enabled {
		auditLogger = observability.NewAuditLogger(logger)
	}

	store, err := state.Open(ctx, cfg, metrics, logger)
	if err != nil {
		if auditLogger != nil {
			auditLogger.Close()
		}
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	logger.Info(ctx, "State store ready",
		zap.String("backend", store.Backend()),
		zap.Bool("dry_run", cfg.App.DryRun),
	)

	gw := gateway.NewClient(&cfg.Gateway, metrics, logger)
	holidays := holiday.NewProvider(&cfg.Holiday, cfg.Notify.Breaker, &cfg.Gateway.Retry, metrics, logger)
	pool := images.NewDirPool(&cfg.Images, logger)
	notifier := notify.NewDispatcher(&cfg.Notify, notify.DefaultEndpoints(), metrics, logger)
	loader := accounts.NewLoader(cfg.App.AccountsDir, logger)
	tracer := observability.NewTracer("autopunch")

	clockInEngine := clockin.NewEngine(gw, store, pool, holidays, clockin.Options{
		JitterMeters: cfg.App.JitterMeters,
		DryRun:       cfg.App.DryRun,
	}, logger)

	contentCfg := cfg.Content
	reportEngine := report.NewEngine(gw, store, pool, func(ai domain.AIConfig) content.Generator {
		return content.NewGenerator(ai, &contentCfg, metrics, logger)
	}, report.Options{DryRun: cfg.App.DryRun}, metrics, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Accounts: loader,
		ClockIn:  clockInEngine,
		Reports:  reportEngine,
		Sessions: func(account *domain.Account) orchestrator.Session {
			return session.NewManager(account, gw, store, metrics, logger)
		},
		Notifier: notifier,
		Audit:    auditLogger,
		Metrics:  metrics,
		Logger:   logger,
		Tracer:   tracer,
	}, orchestrator.Options{
		Concurrency:    cfg.App.Concurrency,
		AccountTimeout: cfg.App.AccountTimeout,
		RandomSeed:     cfg.App.RandomSeed,
		Location:       cfg.Location(),
		DryRun:         cfg.App.DryRun,
	})

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
		AuditLogger:   auditLogger,
		Store:         store,
		Gateway:       gw,
		Holidays:      holidays,
		Images:        pool,
		Notifier:      notifier,
		Accounts:      loader,
		Orchestrator:  orch,
		HealthHandler: health.NewHandler(store, orch, Version),
	}, nil
}

// RunOnce performs one run over all accounts and pushes the run metrics
// when a push gateway is configured.
func (c *Container) RunOnce(ctx context.Context) (*orchestrator.Batch, error) {
	batch, err := c.Orchestrator.Run(ctx)
	if err != nil {
		return nil, err
	}

	if url := c.Config.Metrics.PushGatewayURL; c.Config.Metrics.Enabled && url != "" {
		if err := c.Metrics.Push(url, c.Config.Metrics.JobName); err != nil {
			c.Logger.Warn(ctx, "Failed to push metrics", zap.Error(err), zap.String("url", url))
		}
	}
	return batch, nil
}

// Close gracefully closes all infrastructure connections
func (c *Container) Close() {
	if c.AuditLogger != nil {
		if err := c.AuditLogger.Close(); err != nil {
			c.Logger.Error(context.Background(), "Error closing audit logger", zap.Error(err))
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Error(context.Background(), "Error closing state store", zap.Error(err))
		}
	}
}
