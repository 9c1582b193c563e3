package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/validator"
)

const aliceJSON = `{
  "config": {
    "user": {"phone": "13800000000", "password": "secret"},
    "device": "android",
    "clockIn": {
      "enable": true,
      "mode": "custom",
      "customDays": [1, 3, 5],
      "specialClockIn": false,
      "description": ["到岗", "外出调研"],
      "imageCount": 1,
      "location": {
        "address": "浙江省杭州市西湖区",
        "latitude": "30.274100",
        "longitude": "120.155100",
        "province": "浙江省",
        "city": "杭州市",
        "area": "西湖区"
      }
    },
    "reportSettings": {
      "daily": {"enabled": true, "content": "今日完成接口联调。"},
      "weekly": {"enabled": true, "submitTime": 5, "content": "本周完成模块开发。"},
      "monthly": {"enabled": false}
    },
    "ai": {"enabled": false},
    "pushNotifications": [
      {"type": "PushPlus", "enabled": true, "token": "pp-token"},
      {"type": "Server", "enabled": false},
      {"type": "SMTP", "enabled": true, "host": "smtp.example.com", "port": 465,
       "username": "bot@example.com", "password": "pw", "from": "autopunch", "to": "ops@example.com"}
    ]
  },
  "userInfo": {"token": "stale"}
}`

const bobYAML = `
user:
  phone: "13900000000"
  password: pw
device: iOS
clockIn:
  enable: true
  mode: holiday
  onDutyTime: "08:30"
  location:
    address: 上海市浦东新区
    latitude: 31.22
    longitude: 121.54
reportSettings:
  daily:
    enabled: true
ai:
  enabled: true
  model: gpt-4o-mini
  apikey: sk-test
  apiUrl: https://api.example.com
pushNotifications:
  - type: Discord
    enabled: true
    webhookUrl: https://discord.com/api/webhooks/1/abc
`

func writeFiles(t *testing.T, files map[string]string) string {
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadFile_JSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"alice.json": aliceJSON})

	entry := NewLoader(dir, nil).LoadFile(filepath.Join(dir, "alice.json"))
	require.NoError(t, entry.Err)
	require.True(t, entry.Valid())

	a := entry.Account
	assert.Equal(t, "alice", a.ID)
	assert.Equal(t, "13800000000", a.Credentials.Phone)
	assert.Equal(t, domain.ModeCustom, a.ClockIn.Mode)
	assert.Equal(t, []int{1, 3, 5}, a.ClockIn.CustomDays)
	assert.Equal(t, []string{"到岗", "外出调研"}, a.ClockIn.Notes)
	assert.InDelta(t, 30.2741, a.ClockIn.Location.Latitude, 1e-9)
	assert.Equal(t, 5, a.Reports.Weekly.Day(), "legacy submitTime key")
	assert.False(t, a.Reports.Monthly.Enabled)

	require.Len(t, a.Channels, 2, "disabled channels are dropped")
	pp, ok := a.Channels[0].(*domain.PushPlusChannel)
	require.True(t, ok)
	assert.Equal(t, "pp-token", pp.Token)
	smtp, ok := a.Channels[1].(*domain.SMTPChannel)
	require.True(t, ok)
	assert.Equal(t, 465, smtp.Port)
	assert.Equal(t, "ops@example.com", smtp.To)
}

func TestLoadFile_YAMLWithoutConfigRoot(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bob.yml": bobYAML})

	entry := NewLoader(dir, nil).LoadFile(filepath.Join(dir, "bob.yml"))
	require.NoError(t, entry.Err)

	a := entry.Account
	assert.Equal(t, "bob", a.ID)
	assert.Equal(t, "13900000000", a.Credentials.Phone)
	assert.Equal(t, "08:30", a.ClockIn.OnDutyTime)
	assert.True(t, a.AI.Enabled)
	assert.Equal(t, "https://api.example.com", a.AI.APIURL)
	require.Len(t, a.Channels, 1)
	assert.Equal(t, domain.ChannelDiscord, a.Channels[0].ChannelType())
}

func TestLoad_BrokenFilesAreIsolated(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"alice.json":   aliceJSON,
		"bob.yaml":     bobYAML,
		"broken.json":  `{"config": {`,
		"nopass.json":  `{"user": {"phone": "1"}, "device": "android"}`,
		"telegram.json": `{"user": {"phone": "1", "password": "x"}, "device": "android",
			"pushNotifications": [{"type": "Telegram", "enabled": true}]}`,
		"README.md": "ignored",
	})

	entries, err := NewLoader(dir, nil).Load()
	require.NoError(t, err)
	require.Len(t, entries, 5)

	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.True(t, byID["alice"].Valid())
	assert.True(t, byID["bob"].Valid())
	for _, id := range []string{"broken", "nopass", "telegram"} {
		assert.False(t, byID[id].Valid(), id)
		assert.Equal(t, errors.ErrCodeConfig, errors.CodeOf(byID[id].Err), id)
	}
	assert.Contains(t, byID["nopass"].Err.Error(), "Credentials.Password")
	assert.Contains(t, byID["telegram"].Err.Error(), "Telegram")
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent"), nil).Load()
	assert.Equal(t, errors.ErrCodeConfig, errors.CodeOf(err))
}

func validAccount() *domain.Account {
	return &domain.Account{
		ID:          "a",
		Credentials: domain.Credentials{Phone: "1", Password: "x"},
		Device:      "android",
		ClockIn: domain.ClockInConfig{
			Enabled:  true,
			Location: domain.Location{Address: "杭州"},
		},
		Reports: domain.ReportsConfig{
			Daily: domain.ReportConfig{Enabled: true, Content: "text"},
		},
	}
}

func TestValidate(t *testing.T) {
	v := validator.New()

	tests := []struct {
		name    string
		mutate  func(a *domain.Account)
		wantErr string
	}{
		{"valid", func(a *domain.Account) {}, ""},
		{"custom mode without days", func(a *domain.Account) { a.ClockIn.Mode = domain.ModeCustom }, "customDays"},
		{"custom day out of range", func(a *domain.Account) {
			a.ClockIn.Mode = domain.ModeCustom
			a.ClockIn.CustomDays = []int{8}
		}, "CustomDays"},
		{"missing address", func(a *domain.Account) { a.ClockIn.Location.Address = "" }, "address"},
		{"report without content or ai", func(a *domain.Account) { a.Reports.Daily.Content = "" }, "reportSettings.day.content"},
		{"report without content but ai", func(a *domain.Account) {
			a.Reports.Daily.Content = ""
			a.AI = domain.AIConfig{Enabled: true, Model: "m", APIKey: "k", APIURL: "http://x"}
		}, ""},
		{"ai without key", func(a *domain.Account) { a.AI = domain.AIConfig{Enabled: true, Model: "m", APIURL: "http://x"} }, "APIKey"},
		{"weekly without day", func(a *domain.Account) { a.Reports.Weekly = domain.ReportConfig{Enabled: true, Content: "w"} }, "weekly.submitDay"},
		{"bad duty time", func(a *domain.Account) { a.ClockIn.OnDutyTime = "9am" }, "OnDutyTime"},
		{"smtp without recipient", func(a *domain.Account) {
			a.Channels = []domain.ChannelSettings{&domain.SMTPChannel{Host: "h", Port: 465, Username: "u", Password: "p"}}
		}, "SMTP channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAccount()
			tt.mutate(a)
			err := Validate(v, a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeConfig, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
