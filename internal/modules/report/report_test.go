package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasmani/autopunch/internal/infrastructure/content"
	"github.com/waqasmani/autopunch/internal/infrastructure/gateway"
	"github.com/waqasmani/autopunch/internal/modules/session"
	"github.com/waqasmani/autopunch/internal/modules/state"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
	"github.com/waqasmani/autopunch/internal/shared/random"
)

var wednesday = time.Date(2026, time.October, 14, 18, 30, 0, 0, time.UTC)

type fakeGateway struct {
	counts     map[string]int
	submitted  []gateway.ReportPayload
	submitErrs map[string][]error
	jobErr     error
}

func (f *fakeGateway) ReportCount(ctx context.Context, s *domain.Session, reportType string) (int, error) {
	return f.counts[reportType], nil
}

func (f *fakeGateway) JobInfo(ctx context.Context, s *domain.Session) (*gateway.JobInfo, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &gateway.JobInfo{JobID: "job-7", JobAddress: "杭州", Company: gateway.Company{CompanyName: "示例科技"}}, nil
}

func (f *fakeGateway) SubmitReport(ctx context.Context, s *domain.Session, p gateway.ReportPayload) error {
	if errs := f.submitErrs[p.ReportType]; len(errs) > 0 {
		err := errs[0]
		f.submitErrs[p.ReportType] = errs[1:]
		return err
	}
	f.submitted = append(f.submitted, p)
	return nil
}

func (f *fakeGateway) UploadImages(ctx context.Context, s *domain.Session, images [][]byte) (string, error) {
	return "x.jpg", nil
}

// fakeRunner retries fn once on expiry, like the session manager.
type fakeRunner struct{}

func (fakeRunner) WithSession(ctx context.Context, fn session.Func) error {
	s := &domain.Session{Token: "tok", UserID: "42", PlanID: "plan-1"}
	err := fn(ctx, s)
	if errors.CodeOf(err) == errors.ErrCodeAuthExpired {
		return fn(ctx, s)
	}
	return err
}

type fakeGenerator struct {
	calls *int
	text  string
	err   error
}

func (g fakeGenerator) Generate(ctx context.Context, rc content.ReportContext) (string, error) {
	*g.calls++
	return g.text, g.err
}

func testAccount() *domain.Account {
	return &domain.Account{
		ID: "alice",
		Reports: domain.ReportsConfig{
			Daily:   domain.ReportConfig{Enabled: true, Content: "今日完成接口联调。"},
			Weekly:  domain.ReportConfig{Enabled: true, SubmitDay: 3, Content: "本周完成模块开发。"},
			Monthly: domain.ReportConfig{Enabled: true, SubmitDay: 14, Content: "本月总结。"},
		},
	}
}

func setupEngine(gw *fakeGateway, gen GeneratorFunc, opts Options) (*Engine, *state.MemoryStore) {
	store := state.NewMemoryStore()
	return NewEngine(gw, store, nil, gen, opts, nil, nil), store
}

func byKind(attempts []domain.Attempt) map[domain.Kind]domain.Attempt {
	out := make(map[domain.Kind]domain.Attempt, len(attempts))
	for _, a := range attempts {
		out[a.Kind] = a
	}
	return out
}

func TestRun_AllKindsInOrder(t *testing.T) {
	gw := &fakeGateway{counts: map[string]int{"day": 5, "week": 2, "month": 0}}
	engine, store := setupEngine(gw, nil, Options{})

	attempts := engine.Run(context.Background(), testAccount(), fakeRunner{}, random.New(1), wednesday)
	require.Len(t, attempts, 3)
	assert.Equal(t, domain.KindDailyReport, attempts[0].Kind)
	assert.Equal(t, domain.KindWeeklyReport, attempts[1].Kind)
	assert.Equal(t, domain.KindMonthlyReport, attempts[2].Kind)
	for _, a := range attempts {
		assert.Equal(t, domain.OutcomeSubmitted, a.Outcome, a.Kind)
	}

	require.Len(t, gw.submitted, 3)
	daily, weekly, monthly := gw.submitted[0], gw.submitted[1], gw.submitted[2]

	assert.Equal(t, "第6天日报", daily.Title)
	assert.Equal(t, "2026-10-14 18:30:00", daily.ReportTime)
	assert.Equal(t, "job-7", daily.JobID)
	assert.Equal(t, "今日完成接口联调。", daily.Content)

	assert.Equal(t, "第3周周报", weekly.Title)
	assert.Equal(t, "2026-10-12 00:00:00", weekly.StartTime)
	assert.Equal(t, "2026-10-18 23:59:59", weekly.EndTime)
	assert.Equal(t, "第3周", weekly.Weeks)

	assert.Equal(t, "第1月月报", monthly.Title)
	assert.Equal(t, "2026-10", monthly.YearMonth)
	assert.Equal(t, "2026-10-01 00:00:00", monthly.StartTime)
	assert.Equal(t, "2026-10-31 00:00:00", monthly.EndTime)

	assert.Len(t, store.Records(), 3)
	assert.Equal(t, "今日完成接口联调。", attempts[0].Content)
}

func TestRun_SecondRunSkips(t *testing.T) {
	gw := &fakeGateway{}
	engine, _ := setupEngine(gw, nil, Options{})
	account := testAccount()

	engine.Run(context.Background(), account, fakeRunner{}, random.New(1), wednesday)
	attempts := engine.Run(context.Background(), account, fakeRunner{}, random.New(1), wednesday)

	for _, a := range attempts {
		assert.Equal(t, domain.OutcomeSkippedAlreadyDone, a.Outcome)
	}
	assert.Len(t, gw.submitted, 3)
}

func TestRun_NotDue(t *testing.T) {
	gw := &fakeGateway{}
	engine, _ := setupEngine(gw, nil, Options{})
	account := testAccount()
	account.Reports.Weekly.SubmitDay = 5
	account.Reports.Monthly.Enabled = false

	got := byKind(engine.Run(context.Background(), account, fakeRunner{}, random.New(1), wednesday))
	assert.Equal(t, domain.OutcomeSubmitted, got[domain.KindDailyReport].Outcome)
	assert.Equal(t, domain.OutcomeSkippedNotDue, got[domain.KindWeeklyReport].Outcome)
	assert.Equal(t, "not the submit day", got[domain.KindWeeklyReport].Detail)
	assert.Equal(t, "disabled", got[domain.KindMonthlyReport].Detail)
}

func TestRun_ContentSources(t *testing.T) {
	tests := []struct {
		name     string
		genErr   error
		static   string
		outcome  domain.Outcome
		content  string
		wantCode string
	}{
		{"ai text", nil, "静态", domain.OutcomeSubmitted, "AI 日报", ""},
		{"ai failure falls back", errors.ErrContentGeneration, "静态", domain.OutcomeSubmitted, "静态", ""},
		{"ai failure without fallback", errors.ErrContentGeneration, "", domain.OutcomeFailed, "", string(errors.ErrCodeContentGeneration)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			gen := func(ai domain.AIConfig) content.Generator {
				return fakeGenerator{calls: &calls, text: "AI 日报", err: tt.genErr}
			}
			gw := &fakeGateway{}
			engine, _ := setupEngine(gw, gen, Options{})
			account := testAccount()
			account.AI = domain.AIConfig{Enabled: true, Model: "m", APIKey: "k", APIURL: "http://ai"}
			account.Reports.Daily.Content = tt.static

			got := byKind(engine.Run(context.Background(), account, fakeRunner{}, random.New(1), wednesday))
			daily := got[domain.KindDailyReport]
			assert.Equal(t, tt.outcome, daily.Outcome)
			assert.Equal(t, tt.wantCode, daily.ErrorCode)
			if tt.content != "" {
				assert.Equal(t, tt.content, gw.submitted[0].Content)
			}
			assert.Equal(t, domain.OutcomeSubmitted, got[domain.KindWeeklyReport].Outcome, "other kinds continue")
		})
	}
}

func TestRun_ReloginReusesContent(t *testing.T) {
	calls := 0
	gen := func(ai domain.AIConfig) content.Generator {
		return fakeGenerator{calls: &calls, text: "AI 周报"}
	}
	gw := &fakeGateway{submitErrs: map[string][]error{"day": {errors.ErrAuthExpired}}}
	engine, _ := setupEngine(gw, gen, Options{})
	account := testAccount()
	account.AI.Enabled = true
	account.Reports.Weekly.Enabled = false
	account.Reports.Monthly.Enabled = false

	attempts := engine.Run(context.Background(), account, fakeRunner{}, random.New(1), wednesday)
	assert.Equal(t, domain.OutcomeSubmitted, attempts[0].Outcome)
	assert.Equal(t, 1, calls)
}

func TestRun_FailureIsolatedPerKind(t *testing.T) {
	gw := &fakeGateway{submitErrs: map[string][]error{"day": {errors.New(errors.ErrCodeInternal, "unexpected reply")}}}
	engine, store := setupEngine(gw, nil, Options{})

	got := byKind(engine.Run(context.Background(), testAccount(), fakeRunner{}, random.New(1), wednesday))
	assert.Equal(t, domain.OutcomeFailed, got[domain.KindDailyReport].Outcome)
	assert.Equal(t, string(errors.ErrCodeInternal), got[domain.KindDailyReport].ErrorCode)
	assert.Equal(t, domain.OutcomeSubmitted, got[domain.KindWeeklyReport].Outcome)
	assert.Equal(t, domain.OutcomeSubmitted, got[domain.KindMonthlyReport].Outcome)
	assert.Len(t, store.Records(), 2)
}

func TestRun_RejectionCountsAsAlreadyDone(t *testing.T) {
	gw := &fakeGateway{submitErrs: map[string][]error{"day": {errors.New(errors.ErrCodeRejected, "今日已提交日报")}}}
	engine, store := setupEngine(gw, nil, Options{})

	got := byKind(engine.Run(context.Background(), testAccount(), fakeRunner{}, random.New(1), wednesday))
	daily := got[domain.KindDailyReport]
	assert.Equal(t, domain.OutcomeSkippedAlreadyDone, daily.Outcome)
	assert.Equal(t, "今日已提交日报", daily.Detail)
	assert.Empty(t, daily.ErrorCode)
	assert.Equal(t, domain.OutcomeSubmitted, got[domain.KindWeeklyReport].Outcome)
	assert.Len(t, store.Records(), 2)
}

func TestRun_JobInfoFailureNotFatal(t *testing.T) {
	gw := &fakeGateway{jobErr: errors.ErrTransient}
	engine, _ := setupEngine(gw, nil, Options{})

	attempts := engine.Run(context.Background(), testAccount(), fakeRunner{}, random.New(1), wednesday)
	assert.Equal(t, domain.OutcomeSubmitted, attempts[0].Outcome)
	assert.Empty(t, gw.submitted[0].JobID)
}

func TestRun_DryRun(t *testing.T) {
	gw := &fakeGateway{}
	engine, store := setupEngine(gw, nil, Options{DryRun: true})

	attempts := engine.Run(context.Background(), testAccount(), fakeRunner{}, random.New(1), wednesday)
	for _, a := range attempts {
		assert.Equal(t, domain.OutcomeSubmitted, a.Outcome)
		assert.Contains(t, a.Detail, "dry run")
	}
	assert.Empty(t, gw.submitted)
	assert.Empty(t, store.Records())
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "第1天日报", Title(domain.KindDailyReport, 1))
	assert.Equal(t, "第12周周报", Title(domain.KindWeeklyReport, 12))
	assert.Equal(t, "第3月月报", Title(domain.KindMonthlyReport, 3))
}
