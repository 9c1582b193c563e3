package observability

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type AuditLogger struct {
	logger      *Logger
	file        *os.File
	mu          sync.Mutex
	isDedicated bool
}

// SubmissionEvent is one decision taken for an account: a submission, a
// skip, a failure or a login.
type SubmissionEvent struct {
	RunID     string
	AccountID string
	Kind      string
	Period    string
	Outcome   string
	ErrorCode string
	Detail    string
	DryRun    bool
}

// NewAuditLogger creates an audit logger instance
func NewAuditLogger(logger *Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// NewDedicatedAuditLogger creates an audit logger that writes to a separate file
func NewDedicatedAuditLogger(filePath, format string) (*AuditLogger, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	if format == "console" {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encoderConfig.MessageKey = "message"
		encoderConfig.StacktraceKey = "stack"
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(file),
		zapcore.InfoLevel,
	)

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &AuditLogger{
		logger:      &Logger{zap: zapLogger},
		file:        file,
		isDedicated: true,
	}, nil
}

// Close releases any resources held by the audit logger
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

func (a *AuditLogger) LogSubmissionEvent(ctx context.Context, event SubmissionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info(ctx, "AUDIT",
		zap.String("event_run_id", event.RunID),
		zap.String("event_account_id", event.AccountID),
		zap.String("submission_kind", event.Kind),
		zap.String("period", event.Period),
		zap.String("outcome", event.Outcome),
		zap.String("error_code", event.ErrorCode),
		zap.String("detail", event.Detail),
		zap.Bool("dry_run", event.DryRun),
		zap.Time("event_time", time.Now().UTC()),
		zap.String("audit_version", "1.0"),
	)
}
