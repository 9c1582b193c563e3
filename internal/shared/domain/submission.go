package domain

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindClockIn       Kind = "clock_in"
	KindDailyReport   Kind = "daily_report"
	KindWeeklyReport  Kind = "weekly_report"
	KindMonthlyReport Kind = "monthly_report"
)

// ReportKinds is the fixed processing order of reports.
var ReportKinds = []Kind{KindDailyReport, KindWeeklyReport, KindMonthlyReport}

// ReportType is the external service's name for the report kind.
func (k Kind) ReportType() string {
	switch k {
	case KindDailyReport:
		return "day"
	case KindWeeklyReport:
		return "week"
	case KindMonthlyReport:
		return "month"
	default:
		return ""
	}
}

type Slot string

const (
	SlotOnDuty  Slot = "on_duty"
	SlotOffDuty Slot = "off_duty"
	SlotRest    Slot = "rest"
)

// ClockType is the external service's name for the slot.
func (s Slot) ClockType() string {
	switch s {
	case SlotOnDuty:
		return "START"
	case SlotOffDuty:
		return "END"
	case SlotRest:
		return "HOLIDAY"
	default:
		return ""
	}
}

// Period identifies the window a submission counts against, e.g.
// "2026-10-14#on_duty", "2026-10-14", "2026-W42" or "2026-10".
type Period string

func ClockInPeriod(day time.Time, slot Slot) Period {
	return Period(fmt.Sprintf("%s#%s", day.Format("2006-01-02"), slot))
}

func DailyPeriod(day time.Time) Period {
	return Period(day.Format("2006-01-02"))
}

func WeeklyPeriod(day time.Time) Period {
	year, week := day.ISOWeek()
	return Period(fmt.Sprintf("%04d-W%02d", year, week))
}

func MonthlyPeriod(day time.Time) Period {
	return Period(day.Format("2006-01"))
}

type Outcome string

const (
	OutcomeSubmitted          Outcome = "submitted"
	OutcomeSkippedNotDue      Outcome = "skipped_not_due"
	OutcomeSkippedAlreadyDone Outcome = "skipped_already_done"
	OutcomeFailed             Outcome = "failed"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

type SubmissionRecord struct {
	AccountID   string
	Kind        Kind
	Period      Period
	CompletedAt time.Time
	Detail      string
}

// Session is an authenticated session against the external service.
type Session struct {
	Token    string    `json:"token"`
	UserID   string    `json:"userId"`
	RoleKey  string    `json:"roleKey"`
	OrgID    string    `json:"orgId"`
	Nickname string    `json:"nickname"`
	PlanID   string    `json:"planId"`
	PlanName string    `json:"planName"`
	IssuedAt time.Time `json:"issuedAt"`
}

type Attempt struct {
	Kind      Kind    `json:"kind"`
	Period    Period  `json:"period"`
	Outcome   Outcome `json:"outcome"`
	ErrorCode string  `json:"error_code,omitempty"`
	Detail    string  `json:"detail,omitempty"`
	Content   string  `json:"content,omitempty"`
}

type RunResult struct {
	RunID       string    `json:"run_id"`
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Status      Status    `json:"status"`
	Attempts    []Attempt `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Counts tallies attempts by outcome.
func (r RunResult) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, a := range r.Attempts {
		counts[a.Outcome]++
	}
	return counts
}
