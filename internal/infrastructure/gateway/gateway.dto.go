package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID accepts identifiers the service sends either as strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Flag json.RawMessage `json:"flag"`
	Data json.RawMessage `json:"data"`
}

type loginRequest struct {
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	LoginType string `json:"loginType"`
	UUID      string `json:"uuid"`
	Device    string `json:"device"`
	Version   string `json:"version"`
	T         string `json:"t"`
}

type userInfo struct {
	Token    string `json:"token"`
	UserID   ID     `json:"userId"`
	RoleKey  string `json:"roleKey"`
	Nickname string `json:"nikeName"`
	OrgJSON  struct {
		SnowFlakeID ID `json:"snowFlakeId"`
	} `json:"orgJson"`
}

type Plan struct {
	PlanID   ID     `json:"planId"`
	PlanName string `json:"planName"`
}

type Company struct {
	CompanyName string `json:"companyName"`
	TradeValue  string `json:"tradeValue"`
}

// JobInfo is the internship position a report is written about.
type JobInfo struct {
	JobID             ID      `json:"jobId"`
	JobName           string  `json:"jobName"`
	JobAddress        string  `json:"jobAddress"`
	QuartersIntroduce string  `json:"quartersIntroduce"`
	Company           Company `json:"practiceCompanyEntity"`
}

// UnmarshalJSON falls back to the plain "address" key some plan versions
// send instead of "jobAddress".
func (j *JobInfo) UnmarshalJSON(b []byte) error {
	type plain JobInfo
	var raw struct {
		plain
		Address string `json:"address"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*j = JobInfo(raw.plain)
	if j.JobAddress == "" {
		j.JobAddress = raw.Address
	}
	return nil
}

type ClockInPayload struct {
	Type        string
	Device      string
	Location    LocationPayload
	Description string
	Attachments string
	CreateTime  string
}

// LocationPayload carries the jittered coordinates as the decimal strings
// the service expects.
type LocationPayload struct {
	Address   string
	Latitude  string
	Longitude string
	Country   string
	Province  string
	City      string
	Area      string
}

type ReportPayload struct {
	ReportType  string
	Title       string
	Content     string
	JobID       string
	Attachments string
	ReportTime  string
	StartTime   string
	EndTime     string
	Weeks       string
	YearMonth   string
}

type uploadResponse struct {
	Key string `json:"key"`
}

// FormatCoord renders a coordinate with six decimals, roughly 0.1 m.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
