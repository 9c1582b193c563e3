// Package domain holds the account, submission and run-result types shared by
// every scheduling component.
package domain

import (
	"strings"
	"unicode/utf8"
)

type ClockInMode string

const (
	ModeDaily   ClockInMode = "daily"
	ModeHoliday ClockInMode = "holiday"
	ModeCustom  ClockInMode = "custom"
)

const (
	DefaultOnDutyTime  = "09:00"
	DefaultOffDutyTime = "18:00"
)

type Credentials struct {
	Phone    string `mapstructure:"phone" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

type Location struct {
	Address   string  `mapstructure:"address" json:"address"`
	Latitude  float64 `mapstructure:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `mapstructure:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
	Country   string  `mapstructure:"country" json:"country"`
	Province  string  `mapstructure:"province" json:"province"`
	City      string  `mapstructure:"city" json:"city"`
	Area      string  `mapstructure:"area" json:"area"`
}

type ClockInConfig struct {
	Enabled        bool        `mapstructure:"enable"`
	Mode           ClockInMode `mapstructure:"mode" validate:"omitempty,oneof=daily holiday custom"`
	CustomDays     []int       `mapstructure:"customDays" validate:"dive,gte=1,lte=7"`
	SpecialClockIn bool        `mapstructure:"specialClockIn"`
	OnDutyTime     string      `mapstructure:"onDutyTime" validate:"omitempty,clock"`
	OffDutyTime    string      `mapstructure:"offDutyTime" validate:"omitempty,clock"`
	Notes          []string    `mapstructure:"description"`
	ImageCount     int         `mapstructure:"imageCount" validate:"gte=0,lte=9"`
	Location       Location    `mapstructure:"location"`
}

// ReportConfig describes one report kind. SubmitDay is an ISO weekday for
// weekly reports and a day of month for monthly ones.
type ReportConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ImageCount int    `mapstructure:"imageCount" validate:"gte=0,lte=9"`
	SubmitDay  int    `mapstructure:"submitDay" validate:"gte=0,lte=31"`
	SubmitTime int    `mapstructure:"submitTime" validate:"gte=0,lte=31"`
	Content    string `mapstructure:"content"`
	WordCount  int    `mapstructure:"wordCount" validate:"gte=0"`
}

// Day resolves SubmitDay, falling back to the legacy submitTime key.
func (r ReportConfig) Day() int {
	if r.SubmitDay > 0 {
		return r.SubmitDay
	}
	return r.SubmitTime
}

type ReportsConfig struct {
	Daily   ReportConfig `mapstructure:"daily"`
	Weekly  ReportConfig `mapstructure:"weekly"`
	Monthly ReportConfig `mapstructure:"monthly"`
}

func (r ReportsConfig) For(kind Kind) ReportConfig {
	switch kind {
	case KindWeeklyReport:
		return r.Weekly
	case KindMonthlyReport:
		return r.Monthly
	default:
		return r.Daily
	}
}

type AIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model" validate:"required_if=Enabled true"`
	APIKey  string `mapstructure:"apikey" validate:"required_if=Enabled true"`
	APIURL  string `mapstructure:"apiUrl" validate:"required_if=Enabled true"`
}

type Account struct {
	ID          string            `mapstructure:"id"`
	Source      string            `mapstructure:"-"`
	Credentials Credentials       `mapstructure:"user"`
	Device      string            `mapstructure:"device" validate:"required"`
	ClockIn     ClockInConfig     `mapstructure:"clockIn"`
	Reports     ReportsConfig     `mapstructure:"reportSettings"`
	AI          AIConfig          `mapstructure:"ai"`
	Channels    []ChannelSettings `mapstructure:"-"`
}

// EffectiveMode treats an unset mode as daily.
func (c ClockInConfig) EffectiveMode() ClockInMode {
	if c.Mode == "" {
		return ModeDaily
	}
	return c.Mode
}

func (c ClockInConfig) DutyTimes() (string, string) {
	on, off := c.OnDutyTime, c.OffDutyTime
	if on == "" {
		on = DefaultOnDutyTime
	}
	if off == "" {
		off = DefaultOffDutyTime
	}
	return on, off
}

// MaskPhone keeps the first three and last four digits.
func MaskPhone(phone string) string {
	if len(phone) < 8 || utf8.RuneCountInString(phone) != len(phone) {
		return MaskName(phone)
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

// MaskName keeps the first and last rune of a display name.
func MaskName(name string) string {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return ""
	case n <= 2:
		r, _ := utf8.DecodeRuneInString(name)
		return string(r) + strings.Repeat("*", n-1)
	default:
		runes := []rune(name)
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	}
}
