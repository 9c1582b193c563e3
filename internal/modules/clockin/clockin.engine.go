// Package clockin performs the daily attendance submission for one account.
package clockin

import (
	"context"
	"math"
	"time"

	"github.com/waqasmani/autopunch/internal/infrastructure/gateway"
	"github.com/waqasmani/autopunch/internal/infrastructure/images"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/modules/calendar"
	"github.com/waqasmani/autopunch/internal/modules/session"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/random"
)

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111320.0

const DefaultJitterMeters = 30

type Gateway interface {
	ClockIn(ctx context.Context, s *domain.Session, p gateway.ClockInPayload) error
	UploadImages(ctx context.Context, s *domain.Session, images [][]byte) (string, error)
}

type HolidayChecker interface {
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// Records is the part of the state store the engine uses.
type Records interface {
	HasSubmitted(ctx context.Context, accountID string, kind domain.Kind, period domain.Period) (bool, error)
	RecordSubmitted(ctx context.Context, record domain.SubmissionRecord) error
}

// SessionRunner runs an operation with a valid session.
type SessionRunner interface {
	WithSession(ctx context.Context, fn session.Func) error
}

type Options struct {
	JitterMeters float64
	DryRun       bool
}

type Engine struct {
	gw       Gateway
	records  Records
	images   images.Pool
	holidays HolidayChecker
	opts     Options
	logger   *observability.Logger
}

func NewEngine(gw Gateway, records Records, pool images.Pool, holidays HolidayChecker, opts Options, logger *observability.Logger) *Engine {
	if opts.JitterMeters <= 0 {
		opts.JitterMeters = DefaultJitterMeters
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Engine{
		gw:       gw,
		records:  records,
		images:   pool,
		holidays: holidays,
		opts:     opts,
		logger:   logger,
	}
}

// Run decides and, when due, submits today's clock-in. now must be in the
// account's local zone.
func (e *Engine) Run(ctx context.Context, account *domain.Account, sess SessionRunner, rnd *random.Source, now time.Time) domain.Attempt {
	cfg := account.ClockIn
	decision := calendar.EvaluateClockIn(cfg, now, e.isHoliday(ctx, cfg, now))
	attempt := domain.Attempt{Kind: domain.KindClockIn, Period: decision.Period}

	if !decision.Due {
		attempt.Outcome = domain.OutcomeSkippedNotDue
		attempt.Detail = decision.Reason
		return attempt
	}

	done, err := e.records.HasSubmitted(ctx, account.ID, domain.KindClockIn, decision.Period)
	if err != nil {
		return failed(attempt, err, "state store unavailable")
	}
	if done {
		attempt.Outcome = domain.OutcomeSkippedAlreadyDone
		attempt.Detail = "already recorded"
		return attempt
	}

	payload := e.buildPayload(cfg, account.Device, decision.Slot, rnd, now)
	pictures := e.pickImages(ctx, cfg.ImageCount, rnd)

	if e.opts.DryRun {
		e.logger.Info(ctx, "Dry run, clock-in not sent",
			e.logger.Field("slot", string(decision.Slot)),
			e.logger.Field("latitude", payload.Location.Latitude),
			e.logger.Field("longitude", payload.Location.Longitude),
		)
		attempt.Outcome = domain.OutcomeSubmitted
		attempt.Detail = "dry run, nothing sent"
		return attempt
	}

	err = sess.WithSession(ctx, func(ctx context.Context, s *domain.Session) error {
		if len(pictures) > 0 {
			refs, err := e.gw.UploadImages(ctx, s, pictures)
			if err != nil {
				if isExpiredOrCanceled(err) {
					return err
				}
				e.logger.Warn(ctx, "Clocking in without attachments", e.logger.Field("error", err.Error()))
			}
			payload.Attachments = refs
		}
		return e.gw.ClockIn(ctx, s, payload)
	})

	switch {
	case err == nil:
	case errors.CodeOf(err) == errors.ErrCodeRejected:
		attempt.Outcome = domain.OutcomeSkippedAlreadyDone
		attempt.Detail = rejectionDetail(err)
		return attempt
	case errors.CodeOf(err) == errors.ErrCodeCanceled:
		return failed(attempt, err, "outcome unknown, interrupted while submitting")
	default:
		return failed(attempt, err, "clock-in failed")
	}

	attempt.Outcome = domain.OutcomeSubmitted
	attempt.Detail = string(decision.Slot)

	record := domain.SubmissionRecord{
		AccountID:   account.ID,
		Kind:        domain.KindClockIn,
		Period:      decision.Period,
		CompletedAt: now,
		Detail:      payload.Type,
	}
	if err := e.records.RecordSubmitted(ctx, record); err != nil {
		e.logger.Error(ctx, "Clock-in submitted but not recorded", e.logger.Field("error", err.Error()))
		attempt.Detail = "submitted, local record failed"
	}
	return attempt
}

func (e *Engine) isHoliday(ctx context.Context, cfg domain.ClockInConfig, now time.Time) bool {
	if cfg.EffectiveMode() != domain.ModeHoliday || !cfg.Enabled {
		return false
	}
	if e.holidays == nil {
		return calendar.IsWeekend(now)
	}
	holiday, err := e.holidays.IsHoliday(ctx, now)
	if err != nil {
		e.logger.Warn(ctx, "Holiday lookup failed, using weekend rule", e.logger.Field("error", err.Error()))
		return calendar.IsWeekend(now)
	}
	return holiday
}

func (e *Engine) buildPayload(cfg domain.ClockInConfig, device string, slot domain.Slot, rnd *random.Source, now time.Time) gateway.ClockInPayload {
	lat, lon := Jitter(rnd, cfg.Location.Latitude, cfg.Location.Longitude, e.opts.JitterMeters)

	return gateway.ClockInPayload{
		Type:        slot.ClockType(),
		Device:      device,
		Description: PickNote(rnd, cfg.Notes),
		CreateTime:  now.Format("2006-01-02 15:04:05"),
		Location: gateway.LocationPayload{
			Address:   cfg.Location.Address,
			Latitude:  gateway.FormatCoord(lat),
			Longitude: gateway.FormatCoord(lon),
			Country:   cfg.Location.Country,
			Province:  cfg.Location.Province,
			City:      cfg.Location.City,
			Area:      cfg.Location.Area,
		},
	}
}

func (e *Engine) pickImages(ctx context.Context, n int, rnd *random.Source) [][]byte {
	if n <= 0 || e.images == nil {
		return nil
	}
	pictures, err := e.images.Pick(ctx, rnd, n)
	if err != nil {
		e.logger.Warn(ctx, "Image pool unavailable", e.logger.Field("error", err.Error()))
	}
	return pictures
}

// Jitter offsets a coordinate by independent uniform amounts of at most
// meters along each axis. Longitude offsets are scaled by the latitude so
// the bound holds in meters.
func Jitter(rnd *random.Source, lat, lon, meters float64) (float64, float64) {
	dLat := rnd.Uniform(meters) / metersPerDegree

	cos := math.Cos(lat * math.Pi / 180)
	dLon := 0.0
	if cos > 1e-9 {
		dLon = rnd.Uniform(meters) / (metersPerDegree * cos)
	}
	return lat + dLat, lon + dLon
}

// PickNote draws one note uniformly; an empty pool yields none.
func PickNote(rnd *random.Source, notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	return notes[rnd.Intn(len(notes))]
}

func failed(attempt domain.Attempt, err error, detail string) domain.Attempt {
	attempt.Outcome = domain.OutcomeFailed
	attempt.ErrorCode = string(errors.CodeOf(err))
	attempt.Detail = detail + ": " + err.Error()
	return attempt
}

func rejectionDetail(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

func isExpiredOrCanceled(err error) bool {
	code := errors.CodeOf(err)
	return code == errors.ErrCodeAuthExpired || code == errors.ErrCodeCanceled
}
