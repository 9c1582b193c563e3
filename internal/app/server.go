package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"go.uber.org/zap"
)

const scheduledJob = "scheduled_run"

type Server struct {
	router       *gin.Engine
	container    *Container
	httpServer   *http.Server
	scheduler    *cron.Cron
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup
}

func NewServer(container *Container) *Server {
	router := SetupRouter(container)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Server{
		router:       router,
		container:    container,
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
	}
}

// Start serves HTTP and runs the configured schedules until SIGINT or
// SIGTERM.
func (s *Server) Start() error {
	if err := s.startScheduler(); err != nil {
		return err
	}

	cfg := s.container.Config.Server
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:   orDefault(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:    orDefault(cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes: 1 << 20,
	}

	s.container.Logger.Info(s.workerCtx,
		fmt.Sprintf("Starting server on %s", addr),
		zap.String("env", s.container.Config.App.Env),
		zap.Strings("schedules", s.container.Config.Schedule.Specs),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.stopScheduler()
		s.container.Close()
		return err
	case sig := <-sigChan:
		s.container.Logger.Info(s.workerCtx, "Shutdown signal received", zap.String("signal", sig.String()))
		return s.gracefulShutdown()
	}
}

// startScheduler registers one shared job for every schedule. The job
// carries a single overlap guard, so a firing, from any schedule or from
// start-up, is skipped while another run is still in progress.
func (s *Server) startScheduler() error {
	cfg := s.container.Config
	logger := cronLogger{logger: s.container.Logger}
	s.scheduler = cron.New(cron.WithLocation(cfg.Location()))
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(s.runScheduled))

	for _, spec := range cfg.Schedule.Specs {
		if _, err := s.scheduler.AddJob(spec, job); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
	}
	s.scheduler.Start()

	if cfg.Schedule.RunOnStart {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			job.Run()
		}()
	}
	return nil
}

func (s *Server) runScheduled() {
	start := time.Now()
	ctx := s.workerCtx
	defer func() {
		if r := recover(); r != nil {
			s.container.Logger.Error(ctx, "Panic in scheduled run", zap.Any("error", r), zap.String("job", scheduledJob))
			s.container.Metrics.RecordBackgroundJob(scheduledJob, time.Since(start), fmt.Errorf("panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		return
	}

	batch, err := s.container.RunOnce(ctx)
	duration := time.Since(start)
	s.container.Metrics.RecordBackgroundJob(scheduledJob, duration, err)
	if err != nil {
		s.container.Logger.Error(ctx, "Scheduled run failed", zap.Error(err), zap.Duration("duration", duration))
		return
	}
	s.container.Logger.Info(ctx, "Scheduled run finished",
		zap.String("run_id", batch.RunID),
		zap.Int("accounts", len(batch.Results)),
		zap.Duration("duration", duration),
	)
}

// stopScheduler prevents new firings and returns once running jobs end.
func (s *Server) stopScheduler() <-chan struct{} {
	done := make(chan struct{})
	if s.scheduler == nil {
		close(done)
		return done
	}
	cronCtx := s.scheduler.Stop()
	go func() {
		<-cronCtx.Done()
		s.workerWG.Wait()
		close(done)
	}()
	return done
}

func (s *Server) gracefulShutdown() error {
	timeout := orDefault(s.container.Config.Server.ShutdownTimeout, 30*time.Second)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	s.container.Logger.Info(s.workerCtx, "Shutting down HTTP server...")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.container.Logger.Error(s.workerCtx, "HTTP server shutdown failed", zap.Error(err))
		}
	}

	s.container.Logger.Info(s.workerCtx, "Stopping scheduler...")
	done := s.stopScheduler()

	select {
	case <-done:
		s.container.Logger.Info(s.workerCtx, "Scheduled runs finished")
	case <-shutdownCtx.Done():
		s.container.Logger.Warn(s.workerCtx, "Scheduled run did not finish in time, cancelling")
		s.workerCancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			s.container.Logger.Warn(s.workerCtx, "Scheduled run ignored cancellation, proceeding with shutdown")
		}
	}
	s.workerCancel()

	s.container.Logger.Info(s.workerCtx, "Closing infrastructure connections...")
	s.container.Close()
	s.container.Logger.Info(s.workerCtx, "Server exited gracefully")
	return nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// cronLogger routes cron's key/value logging through the service logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), "cron: "+msg, append(kvFields(keysAndValues), zap.Error(err))...)
}

func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
