// Package calendar decides which submissions are due on a given day. Every
// function here is pure; holiday answers are passed in by the caller.
package calendar

import (
	"fmt"
	"time"

	"github.com/waqasmani/autopunch/internal/shared/domain"
)

const (
	ReasonDisabled      = "disabled"
	ReasonNotWeekday    = "not a configured weekday"
	ReasonNotSubmitDay  = "not the submit day"
	ReasonInvalidConfig = "no submit day configured"
)

// Decision is the verdict for one submission kind on one day.
type Decision struct {
	Due    bool
	Kind   domain.Kind
	Slot   domain.Slot
	Period domain.Period
	Reason string
}

// EvaluateClockIn decides today's clock-in. now must already be in the
// account's local zone.
func EvaluateClockIn(cfg domain.ClockInConfig, now time.Time, isHoliday bool) Decision {
	d := Decision{Kind: domain.KindClockIn, Slot: DutySlot(cfg, now)}

	switch cfg.EffectiveMode() {
	case domain.ModeHoliday:
		if isHoliday != cfg.SpecialClockIn {
			d.Slot = domain.SlotRest
		}
		d.Due = true

	case domain.ModeCustom:
		d.Due = containsDay(cfg.CustomDays, ISOWeekday(now)) != cfg.SpecialClockIn
		if !d.Due {
			d.Reason = ReasonNotWeekday
		}

	default:
		d.Due = true
	}

	if !cfg.Enabled {
		d.Due = false
		d.Reason = ReasonDisabled
	}

	d.Period = PeriodFor(domain.KindClockIn, now, d.Slot)
	return d
}

// DutySlot picks on-duty before the midpoint of the working day and
// off-duty after it.
func DutySlot(cfg domain.ClockInConfig, now time.Time) domain.Slot {
	onStr, offStr := cfg.DutyTimes()
	on, errOn := ParseClock(onStr)
	off, errOff := ParseClock(offStr)
	if errOn != nil || errOff != nil || off <= on {
		on, _ = ParseClock(domain.DefaultOnDutyTime)
		off, _ = ParseClock(domain.DefaultOffDutyTime)
	}

	midpoint := on + (off-on)/2
	if TimeOfDay(now) < midpoint {
		return domain.SlotOnDuty
	}
	return domain.SlotOffDuty
}

// EvaluateReport decides whether a report kind is due on today.
func EvaluateReport(kind domain.Kind, cfg domain.ReportConfig, today time.Time) Decision {
	d := Decision{Kind: kind, Period: PeriodFor(kind, today, "")}
	if !cfg.Enabled {
		d.Reason = ReasonDisabled
		return d
	}

	switch kind {
	case domain.KindWeeklyReport:
		day := cfg.Day()
		if day < 1 || day > 7 {
			d.Reason = ReasonInvalidConfig
			return d
		}
		d.Due = ISOWeekday(today) == day

	case domain.KindMonthlyReport:
		day := cfg.Day()
		if day < 1 {
			d.Reason = ReasonInvalidConfig
			return d
		}
		last := DaysInMonth(today.Year(), today.Month())
		d.Due = today.Day() == day || (today.Day() == last && day > last)

	default:
		d.Due = true
	}

	if !d.Due {
		d.Reason = ReasonNotSubmitDay
	}
	return d
}

// PeriodFor returns the dedup key of kind on day. slot only matters for
// clock-ins.
func PeriodFor(kind domain.Kind, day time.Time, slot domain.Slot) domain.Period {
	switch kind {
	case domain.KindClockIn:
		return domain.ClockInPeriod(day, slot)
	case domain.KindWeeklyReport:
		return domain.WeeklyPeriod(day)
	case domain.KindMonthlyReport:
		return domain.MonthlyPeriod(day)
	default:
		return domain.DailyPeriod(day)
	}
}

// DaysInMonth counts the days of month in year, leap years included.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ISOWeekday numbers Monday as 1 and Sunday as 7.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// WeekBounds returns midnight Monday and the last instant of Sunday for the
// ISO week containing t.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	monday := day.AddDate(0, 0, 1-ISOWeekday(t))
	end := monday.AddDate(0, 0, 7).Add(-time.Second)
	return monday, end
}

// IsWeekend is the fallback rule when no holiday calendar is available.
func IsWeekend(t time.Time) bool {
	return ISOWeekday(t) >= 6
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// TimeOfDay is the offset of t from its local midnight.
func TimeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
