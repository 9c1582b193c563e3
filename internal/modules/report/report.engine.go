// Package report files the daily, weekly and monthly internship reports of
// one account.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/waqasmani/autopunch/internal/infrastructure/content"
	"github.com/waqasmani/autopunch/internal/infrastructure/gateway"
	"github.com/waqasmani/autopunch/internal/infrastructure/images"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/calendar"
	"github.com/waqasmani/autopunch/internal/modules/session"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/random"
)

const timeLayout = "2006-01-02 15:04:05"

type Gateway interface {
	ReportCount(ctx context.Context, s *domain.Session, reportType string) (int, error)
	JobInfo(ctx context.Context, s *domain.Session) (*gateway.JobInfo, error)
	SubmitReport(ctx context.Context, s *domain.Session, p gateway.ReportPayload) error
	UploadImages(ctx context.Context, s *domain.Session, images [][]byte) (string, error)
}

type Records interface {
	HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error)
	RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error
}

type SessionRunner interface {
	WithSession(ctx context.Context, fn session.Func) error
}

// GeneratorFunc builds the AI generator for an account's settings.
type GeneratorFunc func(ai domain.AIConfig) content.Generator

type Options struct {
	DryRun bool
}

type Engine struct {
	gw        Gateway
	records   Records
	images    images.Pool
	generator GeneratorFunc
	opts      Options
	metrics   *observability.Metrics
	logger    *observability.Logger
}

func NewEngine(gw Gateway, records Records, pool images.Pool, generator GeneratorFunc, opts Options, metrics *observability.Metrics, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Engine{
		gw:        gw,
		records:   records,
		images:    pool,
		generator: generator,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes the report kinds in order. A failure of one kind does not
// stop the others.
func (e *Engine) Run(ctx context.Context, account *domain.Account, sess SessionRunner, rnd *random.Source, now time.Time) []domain.Attempt {
	attempts := make([]domain.Attempt, 0, len(domain.ReportKinds))
	for _, kind := range domain.ReportKinds {
		kctx := context.WithValue(ctx, observability.KindKey, string(kind))
		attempts = append(attempts, e.runKind(kctx, account, kind, sess, rnd, now))
	}
	return attempts
}

func (e *Engine) runKind(ctx context.Context, account *domain.Account, kind domain.Kind, sess SessionRunner, rnd *random.Source, now time.Time) domain.Attempt {
	cfg := account.Reports.For(kind)
	decision := calendar.EvaluateReport(kind, cfg, now)
	attempt := domain.Attempt{Kind: kind, Period: decision.Period}

	if !decision.Due {
		attempt.Outcome = domain.OutcomeSkippedNotDue
		attempt.Detail = decision.Reason
		return attempt
	}

	done, err := e.records.HasSubmitted(ctx, account.ID, kind, decision.Period)
	if err != nil {
		return failed(attempt, err, "state store unavailable")
	}
	if done {
		attempt.Outcome = domain.OutcomeSkippedAlreadyDone
		attempt.Detail = "already recorded"
		return attempt
	}

	var pictures [][]byte
	if cfg.ImageCount > 0 && e.images != nil {
		pictures, err = e.images.Pick(ctx, rnd, cfg.ImageCount)
		if err != nil {
			e.logger.Warn(ctx, "Image pool unavailable", e.logger.Field("error", err.Error()))
		}
	}

	// Content survives a re-login so the generator is not called twice.
	var payload *gateway.ReportPayload
	err = sess.WithSession(ctx, func(ctx context.Context, s *domain.Session) error {
		if payload == nil {
			p, err := e.buildPayload(ctx, account, kind, cfg, s, now)
			if err != nil {
				return err
			}
			payload = p
		}

		if e.opts.DryRun {
			return nil
		}

		if len(pictures) > 0 && payload.Attachments == "" {
			refs, err := e.gw.UploadImages(ctx, s, pictures)
			if err != nil {
				if code := errors.CodeOf(err); code == errors.ErrCodeAuthExpired || code == errors.ErrCodeCanceled {
					return err
				}
				e.logger.Warn(ctx, "Submitting report without attachments", e.logger.Field("error", err.Error()))
			}
			payload.Attachments = refs
		}
		return e.gw.SubmitReport(ctx, s, *payload)
	})

	if payload != nil {
		attempt.Content = payload.Content
	}
	switch {
	case err == nil:
	case errors.CodeOf(err) == errors.ErrCodeRejected:
		// The service refuses reports it already holds for the period.
		attempt.Outcome = domain.OutcomeSkippedAlreadyDone
		attempt.Detail = rejectionDetail(err)
		return attempt
	case errors.CodeOf(err) == errors.ErrCodeCanceled:
		return failed(attempt, err, "outcome unknown, interrupted while submitting")
	default:
		return failed(attempt, err, "report failed")
	}

	attempt.Outcome = domain.OutcomeSubmitted
	attempt.Detail = payload.Title
	if e.opts.DryRun {
		attempt.Detail = payload.Title + " (dry run, nothing sent)"
		return attempt
	}

	record := domain.SubmissionRecord{
		AccountID:   account.ID,
		Kind:        kind,
		Period:      decision.Period,
		CompletedAt: now,
		Detail:      payload.Title,
	}
	if err := e.records.RecordSubmitted(ctx, record); err != nil {
		e.logger.Error(ctx, "Report submitted but not recorded", e.logger.Field("error", err.Error()))
		attempt.Detail = payload.Title + ", local record failed"
	}
	return attempt
}

func (e *Engine) buildPayload(ctx context.Context, account *domain.Account, kind domain.Kind, cfg domain.ReportConfig, s *domain.Session, now time.Time) (*gateway.ReportPayload, error) {
	count, err := e.gw.ReportCount(ctx, s, kind.ReportType())
	if err != nil {
		return nil, err
	}
	number := count + 1
	title := Title(kind, number)

	job, err := e.gw.JobInfo(ctx, s)
	if err != nil {
		if code := errors.CodeOf(err); code == errors.ErrCodeAuthExpired || code == errors.ErrCodeCanceled {
			return nil, err
		}
		e.logger.Warn(ctx, "Job info unavailable", e.logger.Field("error", err.Error()))
		job = &gateway.JobInfo{}
	}

	text, err := e.content(ctx, account, kind, cfg, title, job)
	if err != nil {
		return nil, err
	}

	p := &gateway.ReportPayload{
		ReportType: kind.ReportType(),
		Title:      title,
		Content:    text,
		JobID:      job.JobID.String(),
	}

	switch kind {
	case domain.KindDailyReport:
		p.ReportTime = now.Format(timeLayout)
	case domain.KindWeeklyReport:
		start, end := calendar.WeekBounds(now)
		p.StartTime = start.Format(timeLayout)
		p.EndTime = end.Format(timeLayout)
		p.Weeks = fmt.Sprintf("第%d周", number)
	case domain.KindMonthlyReport:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end := start.AddDate(0, 1, -1)
		p.StartTime = start.Format(timeLayout)
		p.EndTime = end.Format(timeLayout)
		p.YearMonth = now.Format("2006-01")
	}
	return p, nil
}

// content prefers AI text, then the configured static text.
func (e *Engine) content(ctx context.Context, account *domain.Account, kind domain.Kind, cfg domain.ReportConfig, title string, job *gateway.JobInfo) (string, error) {
	static := content.StaticGenerator{Text: cfg.Content}
	rc := content.ReportContext{
		Kind:        kind,
		Title:       title,
		JobAddress:  job.JobAddress,
		CompanyName: job.Company.CompanyName,
		Duties:      job.QuartersIntroduce,
		Industry:    job.Company.TradeValue,
		MinWords:    cfg.WordCount,
	}

	if account.AI.Enabled && e.generator != nil {
		text, err := e.generator(account.AI).Generate(ctx, rc)
		if err == nil {
			return text, nil
		}
		if errors.CodeOf(err) == errors.ErrCodeCanceled {
			return "", err
		}
		if strings.TrimSpace(cfg.Content) == "" {
			return "", errors.Wrap(err, errors.ErrCodeContentGeneration, "no fallback content for "+string(kind))
		}
		e.logger.Warn(ctx, "AI content failed, using configured text", e.logger.Field("error", err.Error()))
	}

	text, err := static.Generate(ctx, rc)
	e.recordContent(err)
	return text, err
}

func (e *Engine) recordContent(err error) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	e.metrics.ContentGenerations.WithLabelValues("static", result).Inc()
}

// Title numbers a report, e.g. "第12天日报".
func Title(kind domain.Kind, number int) string {
	switch kind {
	case domain.KindWeeklyReport:
		return fmt.Sprintf("第%d周周报", number)
	case domain.KindMonthlyReport:
		return fmt.Sprintf("第%d月月报", number)
	default:
		return fmt.Sprintf("第%d天日报", number)
	}
}

func rejectionDetail(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

func failed(attempt domain.Attempt, err error, detail string) domain.Attempt {
	attempt.Outcome = domain.OutcomeFailed
	attempt.ErrorCode = string(errors.CodeOf(err))
	attempt.Detail = detail + ": " + err.Error()
	return attempt
}
