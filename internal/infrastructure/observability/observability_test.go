package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	// 1. JSON Logger (Default)
	logger, err := NewLogger("info", "json")
	assert.NoError(t, err)
	assert.NotNil(t, logger)

	// 2. Console Logger
	consoleLogger, err := NewLogger("debug", "console")
	assert.NoError(t, err)
	assert.NotNil(t, consoleLogger)

	// 3. Invalid Level Fallback
	badLevelLogger, err := NewLogger("invalid_level", "json")
	assert.NoError(t, err)
	assert.NotNil(t, badLevelLogger)

	// 4. Context fields
	ctx := logger.WithContext(context.Background(), RunIDKey, "run-1", AccountIDKey, "alice")
	assert.Equal(t, "run-1", ctx.Value(RunIDKey))
	assert.Equal(t, "alice", ctx.Value(AccountIDKey))

	logger.Info(ctx, "test info")
	logger.Error(ctx, "test error")
	_ = logger.Sync()
}

func TestNewLoggerFromCore_ContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLoggerFromCore(core)

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, AccountIDKey, "alice")
	logger.Info(ctx, "Account run finished", logger.Field("status", "completed"))
	logger.Debug(ctx, "below level")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "alice", fields["account_id"])
	assert.Equal(t, "completed", fields["status"])
	assert.NotContains(t, fields, "request_id")
}

func TestLogger_Levels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}

	for _, lvl := range levels {
		l, err := NewLogger(lvl, "json")
		assert.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestContextFields_EdgeCases(t *testing.T) {
	l := NewNopLogger()

	// wrong value type is ignored
	ctx := context.WithValue(context.Background(), AccountIDKey, 12345)
	fields := l.contextFields(ctx)
	for _, f := range fields {
		assert.NotEqual(t, string(AccountIDKey), f.Key)
	}
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewTestMetrics()

	m.SubmissionsTotal.WithLabelValues("clock_in", "submitted").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("clock_in", "submitted")))

	m.RecordExternalCall("gateway", "login", 20*time.Millisecond, nil)
	m.RecordExternalCall("gateway", "login", 20*time.Millisecond, errors.ErrAuth)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalRequestsTotal.WithLabelValues("gateway", "login", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalRequestsTotal.WithLabelValues("gateway", "login", "AUTH_ERROR")))

	m.RecordError(errors.ErrTransient)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorCount.WithLabelValues("network_error", "TRANSIENT_NETWORK")))

	finished := time.Unix(1_800_000_000, 0)
	m.RecordRun(3*time.Second, finished)
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.LastRunTimestamp))

	m.RecordBackgroundJob("scheduled_run", time.Second, errors.ErrStore)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackgroundJobErrors.WithLabelValues("scheduled_run", "STORE_ERROR")))

	m.Unregister()
}

func TestNewMetrics_Singleton(t *testing.T) {
	assert.Same(t, NewMetrics(), NewMetrics())
}

func TestTracer(t *testing.T) {
	tracer := NewTracer("test-service")
	assert.NotNil(t, tracer)

	ctx, span := tracer.Start(context.Background(), "test-span", attribute.String("account_id", "alice"))
	defer span.End()
	assert.NotNil(t, span)
	assert.NotNil(t, ctx)
}

func TestAuditLogger_Event(t *testing.T) {
	audit := NewAuditLogger(NewNopLogger())

	audit.LogSubmissionEvent(context.Background(), SubmissionEvent{
		AccountID: "alice",
		Kind:      "clock_in",
		Outcome:   "submitted",
	})
	assert.NoError(t, audit.Close())
}

func TestDedicatedAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	audit, err := NewDedicatedAuditLogger(path, "json")
	require.NoError(t, err)

	audit.LogSubmissionEvent(context.Background(), SubmissionEvent{
		RunID:     "run-9",
		AccountID: "bob",
		Kind:      "weekly_report",
		Period:    "2026-W42",
		Outcome:   "skipped_already_done",
	})
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"AUDIT"`)
	assert.Contains(t, string(data), `"period":"2026-W42"`)
}
