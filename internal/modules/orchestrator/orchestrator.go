// Package orchestrator runs one pass over every configured account.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/waqasmani/autopunch/internal/infrastructure/notify"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/accounts"
	"github.com/waqasmani/autopunch/internal/modules/clockin"
	"github.com/waqasmani/autopunch/internal/modules/report"
	"github.com/waqasmani/autopunch/internal/modules/session"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AccountSource interface {
	Load() ([]accounts.Entry, error)
}

type ClockInRunner interface {
	Run(ctx context.Context, account *domain.Account, sess clockin.SessionRunner, rnd *random.Source, now time.Time) domain.Attempt
}

type ReportRunner interface {
	Run(ctx context.Context, account *domain.Account, sess report.SessionRunner, rnd *random.Source, now time.Time) []domain.Attempt
}

type Notifier interface {
	Notify(ctx context.Context, account *domain.Account, result domain.RunResult) []notify.Delivery
}

// Session is the per-account session handle the engines share.
type Session interface {
	WithSession(ctx context.Context, fn session.Func) error
}

// SessionFactory builds a fresh session handle for one account run.
type SessionFactory func(account *domain.Account) Session

type Deps struct {
	Accounts AccountSource
	ClockIn  ClockInRunner
	Reports  ReportRunner
	Sessions SessionFactory
	Notifier Notifier
	Audit    *observability.AuditLogger
	Metrics  *observability.Metrics
	Logger   *observability.Logger
	Tracer   *observability.Tracer
}

type Options struct {
	Concurrency    int
	AccountTimeout time.Duration
	RandomSeed     int64
	Location       *time.Location
	DryRun         bool
}

// Batch is the outcome of one run over all accounts.
type Batch struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	DryRun     bool                  `json:"dry_run"`
	Results    []domain.RunResult    `json:"results"`
	Counts     map[domain.Status]int `json:"counts"`
}

type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time

	mu   sync.RWMutex
	last *Batch
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer("autopunch")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// Last returns the most recent finished batch, or nil before the first run.
func (o *Orchestrator) Last() *Batch {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

// Run processes every account. Only an unreadable account directory fails
// the whole run; everything else is reported per account.
func (o *Orchestrator) Run(ctx context.Context) (*Batch, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, observability.RunIDKey, runID)
	started := o.now()

	entries, err := o.deps.Accounts.Load()
	if err != nil {
		o.deps.Logger.Error(ctx, "Failed to load accounts", o.deps.Logger.Field("error", err.Error()))
		return nil, err
	}

	o.deps.Logger.Info(ctx, "Run started",
		o.deps.Logger.Field("accounts", len(entries)),
		o.deps.Logger.Field("concurrency", o.opts.Concurrency),
		o.deps.Logger.Field("dry_run", o.opts.DryRun),
	)

	seed := o.opts.RandomSeed
	if seed == 0 {
		seed = started.UnixNano()
	}
	now := started.In(o.opts.Location)

	results := make([]domain.RunResult, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = o.runEntry(ctx, runID, entry, random.Derive(seed, entry.ID), now)
			return nil
		})
	}
	_ = g.Wait()

	batch := &Batch{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: o.now(),
		DryRun:     o.opts.DryRun,
		Results:    results,
		Counts:     make(map[domain.Status]int, 3),
	}
	for _, r := range results {
		batch.Counts[r.Status]++
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRun(batch.FinishedAt.Sub(started), batch.FinishedAt)
	}
	o.deps.Logger.Info(ctx, "Run finished",
		o.deps.Logger.Field("completed", batch.Counts[domain.StatusCompleted]),
		o.deps.Logger.Field("partial", batch.Counts[domain.StatusPartial]),
		o.deps.Logger.Field("failed", batch.Counts[domain.StatusFailed]),
		o.deps.Logger.Field("duration", batch.FinishedAt.Sub(started).String()),
	)

	o.mu.Lock()
	o.last = batch
	o.mu.Unlock()
	return batch, nil
}

func (o *Orchestrator) runEntry(ctx context.Context, runID string, entry accounts.Entry, rnd *random.Source, now time.Time) domain.RunResult {
	ctx = context.WithValue(ctx, observability.AccountIDKey, entry.ID)
	ctx, span := o.deps.Tracer.Start(ctx, "account.run", attribute.String("account.id", entry.ID))
	defer span.End()

	result := domain.RunResult{
		RunID:       runID,
		AccountID:   entry.ID,
		DisplayName: entry.ID,
		StartedAt:   o.now(),
	}

	if !entry.Valid() {
		result.Status = domain.StatusFailed
		result.ErrorCode = string(errors.ErrCodeConfig)
		result.Error = entry.Err.Error()
		result.FinishedAt = o.now()
		o.finish(ctx, result)
		span.SetStatus(codes.Error, result.ErrorCode)
		return result
	}

	account := entry.Account
	if o.opts.AccountTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.AccountTimeout)
		defer cancel()
	}

	attempts, fatal := o.process(ctx, account, rnd, now, &result)
	result.Attempts = attempts
	if fatal != nil {
		result.ErrorCode = string(errors.CodeOf(fatal))
		result.Error = fatal.Error()
	}
	result.Status = Status(attempts, fatal)
	result.FinishedAt = o.now()

	o.finish(ctx, result)
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(ctx, account, result)
	}

	span.SetAttributes(attribute.String("account.status", string(result.Status)))
	if result.Status == domain.StatusFailed {
		span.SetStatus(codes.Error, result.ErrorCode)
	}
	return result
}

// process runs clock-in then reports. A panic is contained to the account.
func (o *Orchestrator) process(ctx context.Context, account *domain.Account, rnd *random.Source, now time.Time, result *domain.RunResult) (attempts []domain.Attempt, fatal error) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error(ctx, "Account run panicked",
				o.deps.Logger.Field("panic", fmt.Sprint(r)),
				o.deps.Logger.Field("stack", string(debug.Stack())),
			)
			fatal = errors.New(errors.ErrCodeInternal, fmt.Sprintf("account run aborted: %v", r))
		}
	}()

	sess := &guardedSession{inner: o.deps.Sessions(account)}

	if o.deps.ClockIn != nil {
		attempts = append(attempts, o.deps.ClockIn.Run(ctx, account, sess, rnd, now))
	}
	if o.deps.Reports != nil {
		attempts = append(attempts, o.deps.Reports.Run(ctx, account, sess, rnd, now)...)
	}

	if s, ok := sess.inner.(interface{ Current() *domain.Session }); ok {
		if cur := s.Current(); cur != nil && cur.Nickname != "" {
			result.DisplayName = cur.Nickname
		}
	}
	return attempts, sess.err
}

func (o *Orchestrator) finish(ctx context.Context, result domain.RunResult) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.AccountRunsTotal.WithLabelValues(string(result.Status)).Inc()
		for _, a := range result.Attempts {
			o.deps.Metrics.SubmissionsTotal.WithLabelValues(string(a.Kind), string(a.Outcome)).Inc()
		}
	}

	if o.deps.Audit != nil {
		if len(result.Attempts) == 0 {
			o.deps.Audit.LogSubmissionEvent(ctx, observability.SubmissionEvent{
				RunID:     result.RunID,
				AccountID: result.AccountID,
				Kind:      "account",
				Outcome:   string(result.Status),
				ErrorCode: result.ErrorCode,
				Detail:    result.Error,
				DryRun:    o.opts.DryRun,
			})
		}
		for _, a := range result.Attempts {
			o.deps.Audit.LogSubmissionEvent(ctx, observability.SubmissionEvent{
				RunID:     result.RunID,
				AccountID: result.AccountID,
				Kind:      string(a.Kind),
				Period:    string(a.Period),
				Outcome:   string(a.Outcome),
				ErrorCode: a.ErrorCode,
				Detail:    a.Detail,
				DryRun:    o.opts.DryRun,
			})
		}
	}

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Int("attempts", len(result.Attempts)),
	}
	if result.Error != "" {
		fields = append(fields, zap.String("error", result.Error))
	}
	if result.Status == domain.StatusFailed {
		o.deps.Logger.Warn(ctx, "Account run failed", fields...)
		return
	}
	o.deps.Logger.Info(ctx, "Account run finished", fields...)
}

// guardedSession stops calling through once authentication has failed, so
// the remaining kinds of the account fail without logging in again.
type guardedSession struct {
	inner Session
	err   error
}

func (g *guardedSession) WithSession(ctx context.Context, fn session.Func) error {
	if g.err != nil {
		return g.err
	}
	err := g.inner.WithSession(ctx, fn)
	if errors.CodeOf(err) == errors.ErrCodeAuth {
		g.err = err
	}
	return err
}

// Status derives the account status from its attempts. Authentication,
// configuration and aborted runs are failed outright.
func Status(attempts []domain.Attempt, fatal error) domain.Status {
	if fatal != nil {
		return domain.StatusFailed
	}
	var ok, failed int
	for _, a := range attempts {
		switch a.Outcome {
		case domain.OutcomeFailed:
			failed++
		case domain.OutcomeSubmitted, domain.OutcomeSkippedAlreadyDone:
			ok++
		}
	}
	switch {
	case failed == 0:
		return domain.StatusCompleted
	case ok == 0:
		return domain.StatusFailed
	default:
		return domain.StatusPartial
	}
}

// ExitCode is 1 only when there was at least one account and every account
// failed.
func ExitCode(results []domain.RunResult) int {
	if len(results) == 0 {
		return 0
	}
	for _, r := range results {
		if r.Status != domain.StatusFailed {
			return 0
		}
	}
	return 1
}
