package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

func sampleResult() domain.RunResult {
	return domain.RunResult{
		RunID:       "run-1",
		AccountID:   "alice",
		DisplayName: "张小明",
		Status:      domain.StatusPartial,
		Attempts: []domain.Attempt{
			{Kind: domain.KindClockIn, Outcome: domain.OutcomeSubmitted, Detail: "START"},
			{Kind: domain.KindDailyReport, Outcome: domain.OutcomeSubmitted, Detail: "第6天日报",
				Content: strings.Repeat("今日完成接口联调", 10)},
			{Kind: domain.KindWeeklyReport, Outcome: domain.OutcomeSkippedNotDue, Detail: "not the submit day"},
			{Kind: domain.KindMonthlyReport, Outcome: domain.OutcomeFailed, Detail: "report failed: <rejected>"},
		},
	}
}

func testConfig(maxFailures uint32) *config.NotifyConfig {
	return &config.NotifyConfig{
		Timeout: 2 * time.Second,
		Breaker: config.CBConfig{
			Enabled:          true,
			MaxFailures:      maxFailures,
			FailureThreshold: 0.5,
			ResetTimeout:     time.Minute,
		},
	}
}

func TestTitle(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, "📊 工学云报告 张*明 (3/4)", Title(r))

	r.Status = domain.StatusCompleted
	r.DisplayName = ""
	assert.Equal(t, "🎉 工学云报告 (3/4)", Title(r))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "短文本", Preview("短文本"))

	long := strings.Repeat("字", 60)
	got := Preview(long)
	assert.Equal(t, strings.Repeat("字", 50)+"...", got)
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleResult())

	assert.Contains(t, md, "# 工学云任务执行报告")
	assert.Contains(t, md, "- 总任务数：4")
	assert.Contains(t, md, "- 成功：2")
	assert.Contains(t, md, "- 失败：1")
	assert.Contains(t, md, "- 跳过：1")
	assert.Contains(t, md, "### ✅ 打卡")
	assert.Contains(t, md, "### ⏭️ 周报提交")
	assert.Contains(t, md, "### ❌ 月报提交")
	assert.Contains(t, md, "<details>")
	assert.Equal(t, 1, strings.Count(md, "<details>"), "only submitted reports carry a body")
	assert.NotContains(t, md, "张小明")
}

func TestRenderHTML_EscapesContent(t *testing.T) {
	html := RenderHTML(sampleResult())

	assert.Contains(t, html, "<h1>工学云任务执行报告</h1>")
	assert.Contains(t, html, "&lt;rejected&gt;")
	assert.NotContains(t, html, "<rejected>")
}

func TestNotify_PushPlusAndServerChan(t *testing.T) {
	var pushPlus, serverChan map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/pushplus":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushPlus))
			_, _ = w.Write([]byte(`{"code":200,"msg":"请求成功"}`))
		case r.URL.Path == "/sct/SCT123.send":
			require.NoError(t, r.ParseForm())
			serverChan = map[string]string{"title": r.PostForm.Get("title"), "desp": r.PostForm.Get("desp")}
			_, _ = w.Write([]byte(`{"code":0,"message":""}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	metrics := observability.NewTestMetrics()
	d := NewDispatcher(testConfig(3), Endpoints{
		PushPlus:   srv.URL + "/pushplus",
		ServerChan: srv.URL + "/sct/",
	}, metrics, nil)

	account := &domain.Account{Channels: []domain.ChannelSettings{
		&domain.PushPlusChannel{Token: "pp-token"},
		&domain.ServerChannel{SendKey: "SCT123"},
	}}
	deliveries := d.Notify(context.Background(), account, sampleResult())

	require.Len(t, deliveries, 2)
	for _, dl := range deliveries {
		assert.NoError(t, dl.Err, dl.Channel)
	}
	assert.Equal(t, "pp-token", pushPlus["token"])
	assert.Equal(t, "markdown", pushPlus["template"])
	assert.Contains(t, pushPlus["content"], "## 📊 执行统计")
	assert.Equal(t, Title(sampleResult()), serverChan["title"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("PushPlus", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("Server", "success")))
}

func TestNotify_RejectionDoesNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/push/bad-token", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":400,"msg":"token invalid"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(1), Endpoints{AnPush: srv.URL + "/push"}, nil, nil)
	account := &domain.Account{Channels: []domain.ChannelSettings{&domain.AnPushChannel{Token: "bad-token", Channel: "1"}}}

	for i := 0; i < 3; i++ {
		deliveries := d.Notify(context.Background(), account, sampleResult())
		require.Len(t, deliveries, 1)
		assert.Equal(t, errors.ErrCodeRejected, errors.CodeOf(deliveries[0].Err))
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestNotify_OutageOpensBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	metrics := observability.NewTestMetrics()
	d := NewDispatcher(testConfig(2), Endpoints{WxPusher: srv.URL}, metrics, nil)
	account := &domain.Account{Channels: []domain.ChannelSettings{&domain.WxPusherChannel{SPT: "SPT_x"}}}

	for i := 0; i < 2; i++ {
		deliveries := d.Notify(context.Background(), account, sampleResult())
		assert.Equal(t, errors.ErrCodeTransient, errors.CodeOf(deliveries[0].Err))
	}
	deliveries := d.Notify(context.Background(), account, sampleResult())
	assert.Equal(t, errors.ErrCodeTransient, errors.CodeOf(deliveries[0].Err))
	assert.Contains(t, deliveries[0].Err.Error(), "suspended")

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("WxPusher", "breaker_open")))
}

func TestNotify_WxPusherPayload(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"code":1000,"msg":"处理成功"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(testConfig(3), Endpoints{WxPusher: srv.URL}, nil, nil)
	account := &domain.Account{Channels: []domain.ChannelSettings{&domain.WxPusherChannel{SPT: "SPT_x"}}}

	deliveries := d.Notify(context.Background(), account, sampleResult())
	require.NoError(t, deliveries[0].Err)
	assert.Equal(t, "SPT_x", body["spt"])
	assert.Equal(t, float64(2), body["contentType"])
	assert.Contains(t, body["content"], "<h1>工学云任务执行报告</h1>")
}

func TestNotify_NoChannels(t *testing.T) {
	d := NewDispatcher(testConfig(3), DefaultEndpoints(), nil, nil)
	assert.Nil(t, d.Notify(context.Background(), &domain.Account{}, sampleResult()))
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhook) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = webhookID, token, data
	return nil, f.err
}

func TestNotify_Discord(t *testing.T) {
	hook := &fakeWebhook{}
	d := NewDispatcher(testConfig(3), DefaultEndpoints(), nil, nil).
		WithSender(domain.ChannelDiscord, &discordSender{executor: hook})
	account := &domain.Account{Channels: []domain.ChannelSettings{
		&domain.DiscordChannel{WebhookURL: "https://discord.com/api/webhooks/1234/tok-en"},
	}}

	deliveries := d.Notify(context.Background(), account, sampleResult())
	require.NoError(t, deliveries[0].Err)
	assert.Equal(t, "1234", hook.id)
	assert.Equal(t, "tok-en", hook.token)
	require.Len(t, hook.params.Embeds, 1)
	assert.Equal(t, Title(sampleResult()), hook.params.Embeds[0].Title)
	assert.Equal(t, embedColorFailure, hook.params.Embeds[0].Color)
}

func TestNotify_DiscordTransportError(t *testing.T) {
	hook := &fakeWebhook{err: context.DeadlineExceeded}
	d := NewDispatcher(testConfig(3), DefaultEndpoints(), nil, nil).
		WithSender(domain.ChannelDiscord, &discordSender{executor: hook})
	account := &domain.Account{Channels: []domain.ChannelSettings{
		&domain.DiscordChannel{WebhookURL: "https://discord.com/api/webhooks/1/t"},
	}}

	deliveries := d.Notify(context.Background(), account, sampleResult())
	assert.Equal(t, errors.ErrCodeTransient, errors.CodeOf(deliveries[0].Err))
}

func TestParseWebhook(t *testing.T) {
	tests := []struct {
		url       string
		id, token string
		wantErr   bool
	}{
		{"https://discord.com/api/webhooks/1/abc", "1", "abc", false},
		{"https://discordapp.com/api/v10/webhooks/99/x-y/", "99", "x-y", false},
		{"https://discord.com/api/channels/1", "", "", true},
		{"https://discord.com/api/webhooks/1", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, token, err := ParseWebhook(tt.url)
			if tt.wantErr {
				assert.Equal(t, errors.ErrCodeConfig, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestBuildMail(t *testing.T) {
	ch := &domain.SMTPChannel{Host: "smtp.example.com", Port: 465, Username: "bot@example.com", From: "打卡助手", To: "ops@example.com"}
	msg := Message{Title: "🎉 工学云报告 (1/1)", HTML: "<p>" + strings.Repeat("完成", 60) + "</p>"}

	raw := string(BuildMail(ch, msg, time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)))
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	require.True(t, ok)

	assert.Contains(t, head, "To: ops@example.com")
	assert.Contains(t, head, "<bot@example.com>")
	assert.Contains(t, head, "Subject: =?utf-8?q?")
	assert.Contains(t, head, "Content-Type: text/html; charset=UTF-8")
	for _, line := range strings.Split(strings.TrimSpace(body), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(strings.TrimSpace(body), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, msg.HTML, string(decoded))
}
