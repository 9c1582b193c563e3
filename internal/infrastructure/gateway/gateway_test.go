package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

var fixedNow = time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)

func setupClient(t *testing.T, handler http.HandlerFunc, salt string) (*Client, func()) {
	server := httptest.NewServer(handler)

	interval := time.Millisecond
	cfg := &config.GatewayConfig{
		BaseURL:    server.URL,
		UploadURL:  server.URL + "/upload",
		Timeout:    2 * time.Second,
		SignSalt:   salt,
		UserAgent:  "Dart/2.17 (dart:io)",
		AppVersion: "5.15.0",
		Retry: config.RetryConfig{
			InitialInterval: &interval,
			MaxInterval:     &interval,
		},
	}

	client := NewClient(cfg, observability.NewTestMetrics(), observability.NewNopLogger())
	client.now = func() time.Time { return fixedNow }
	return client, server.Close
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testSession() *domain.Session {
	return &domain.Session{Token: "tok", UserID: "42", RoleKey: "student", OrgID: "org", PlanID: "plan-1"}
}

func TestLogin_Success(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+pathLogin, r.URL.Path)
		assert.Empty(t, r.Header.Get("authorization"))

		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "13800000000", req.Phone)
		assert.Equal(t, "android", req.LoginType)
		assert.Len(t, req.UUID, 32)

		inner := `{"token":"jwt-token","userId":12345,"roleKey":"student","nikeName":"张三","orgJson":{"snowFlakeId":"987"}}`
		writeJSON(w, map[string]interface{}{"code": 200, "msg": "success", "data": inner})
	}, "")
	defer cleanup()

	session, err := client.Login(context.Background(), domain.Credentials{Phone: "13800000000", Password: "pw"}, "android")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", session.Token)
	assert.Equal(t, "12345", session.UserID)
	assert.Equal(t, "987", session.OrgID)
	assert.Equal(t, "张三", session.Nickname)
	assert.Equal(t, fixedNow, session.IssuedAt)
}

func TestLogin_Rejected(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 500, "msg": "密码错误"})
	}, "")
	defer cleanup()

	_, err := client.Login(context.Background(), domain.Credentials{Phone: "1", Password: "x"}, "android")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuth, errors.CodeOf(err))
}

func TestProbe_SignsRequest(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("authorization"))
		assert.Equal(t, "42", r.Header.Get("userid"))
		assert.Equal(t, "student", r.Header.Get("rolekey"))
		assert.NotEmpty(t, r.Header.Get("sign"))

		writeJSON(w, map[string]interface{}{
			"code": 200,
			"data": []map[string]interface{}{{"planId": "p-9", "planName": "2026 实习"}},
		})
	}, "salt")
	defer cleanup()

	plan, err := client.Probe(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, ID("p-9"), plan.PlanID)
	assert.Equal(t, "2026 实习", plan.PlanName)
}

func TestProbe_NoPlan(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 200, "data": []interface{}{}})
	}, "")
	defer cleanup()

	_, err := client.Probe(context.Background(), testSession())
	assert.Equal(t, errors.ErrCodeConfig, errors.CodeOf(err))
}

func TestSign(t *testing.T) {
	client := &Client{signSalt: "salt"}
	// md5("abcsalt")
	assert.Equal(t, "1e21f6da01c5047e4bf45b0496bd6937", client.Sign("a", "b", "c"))
}

func TestTokenExpired_NotRetried(t *testing.T) {
	var calls int32
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, map[string]interface{}{"code": 401, "msg": "token失效"})
	}, "")
	defer cleanup()

	err := client.ClockIn(context.Background(), testSession(), ClockInPayload{Type: "START"})
	assert.Equal(t, errors.ErrCodeAuthExpired, errors.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerError_Retried(t *testing.T) {
	var calls int32
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]interface{}{"code": 200})
	}, "")
	defer cleanup()

	err := client.ClockIn(context.Background(), testSession(), ClockInPayload{Type: "START"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestServerError_BudgetExhausted(t *testing.T) {
	var calls int32
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, "")
	defer cleanup()

	err := client.SubmitReport(context.Background(), testSession(), ReportPayload{ReportType: "day"})
	assert.Equal(t, errors.ErrCodeTransient, errors.CodeOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRejection(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 500, "msg": "今日已打卡"})
	}, "")
	defer cleanup()

	err := client.ClockIn(context.Background(), testSession(), ClockInPayload{Type: "START"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRejected, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "今日已打卡")
}

func TestClockIn_Payload(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+pathClockInSave, r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "END", body["type"])
		assert.Equal(t, "plan-1", body["planId"])
		assert.Equal(t, "42", body["userId"])
		assert.Equal(t, "30.123456", body["latitude"])
		assert.Equal(t, "中国", body["country"])
		assert.Equal(t, "NORMAL", body["state"])
		assert.Equal(t, "2026-10-14 08:30:00", body["createTime"])
		assert.Nil(t, body["description"])
		assert.Equal(t, "a.jpg,b.jpg", body["attachments"])

		writeJSON(w, map[string]interface{}{"code": 200})
	}, "")
	defer cleanup()

	err := client.ClockIn(context.Background(), testSession(), ClockInPayload{
		Type:        "END",
		Device:      "android",
		Location:    LocationPayload{Address: "某地", Latitude: FormatCoord(30.1234561), Longitude: FormatCoord(120.5)},
		Attachments: "a.jpg,b.jpg",
	})
	require.NoError(t, err)
}

func TestReportCount(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["reportType"] == "week" {
			writeJSON(w, map[string]interface{}{"code": 200, "flag": 7, "data": []interface{}{}})
			return
		}
		writeJSON(w, map[string]interface{}{"code": 200, "data": []interface{}{map[string]string{}, map[string]string{}}})
	}, "")
	defer cleanup()

	n, err := client.ReportCount(context.Background(), testSession(), "week")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = client.ReportCount(context.Background(), testSession(), "day")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobInfo(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"code": 200, "data": map[string]interface{}{
			"jobId":                 771,
			"jobName":               "后端开发",
			"jobAddress":            "杭州",
			"quartersIntroduce":     "写代码",
			"practiceCompanyEntity": map[string]string{"companyName": "某公司", "tradeValue": "软件"},
		}})
	}, "")
	defer cleanup()

	job, err := client.JobInfo(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, ID("771"), job.JobID)
	assert.Equal(t, "杭州", job.JobAddress)
	assert.Equal(t, "写代码", job.QuartersIntroduce)
	assert.Equal(t, "某公司", job.Company.CompanyName)
}

func TestJobInfo_AddressKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"jobAddress", `{"jobAddress": "杭州"}`, "杭州"},
		{"address fallback", `{"address": "宁波"}`, "宁波"},
		{"jobAddress wins", `{"jobAddress": "杭州", "address": "宁波"}`, "杭州"},
		{"neither", `{"jobId": 1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var job JobInfo
			require.NoError(t, json.Unmarshal([]byte(tt.body), &job))
			assert.Equal(t, tt.want, job.JobAddress)
		})
	}
}

func TestUploadImage(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + pathUploadToken:
			writeJSON(w, map[string]interface{}{"code": 200, "data": "up-token"})
		case "/upload":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "up-token", r.FormValue("token"))
			key := r.FormValue("key")
			assert.Contains(t, key, "upload/org/2026-10-14/report/42_")

			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(file)
			assert.Equal(t, []byte("jpeg-bytes"), data)

			writeJSON(w, map[string]string{"key": key})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, "")
	defer cleanup()

	token, err := client.UploadToken(context.Background(), testSession())
	require.NoError(t, err)
	assert.Equal(t, "up-token", token)

	ref, err := client.UploadImage(context.Background(), testSession(), token, []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, UploadKey("org", "42", fixedNow)[len("upload/"):], ref)
}

func TestUploadImages_SkipsFailures(t *testing.T) {
	var tokens, uploads int32
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + pathUploadToken:
			atomic.AddInt32(&tokens, 1)
			writeJSON(w, map[string]interface{}{"code": 200, "data": "up-token"})
		case "/upload":
			if atomic.AddInt32(&uploads, 1) == 2 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]string{"key": "upload/a.jpg"})
		}
	}, "")
	defer cleanup()

	refs, err := client.UploadImages(context.Background(), testSession(), [][]byte{[]byte("1"), []byte("2"), []byte("3")})
	require.NoError(t, err)
	assert.Equal(t, "a.jpg,a.jpg", refs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens))

	refs, err = client.UploadImages(context.Background(), testSession(), nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens), "no token for an empty batch")
}

func TestCanceledContext(t *testing.T) {
	client, cleanup := setupClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, map[string]interface{}{"code": 200})
	}, "")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.ClockIn(ctx, testSession(), ClockInPayload{Type: "START"})
	assert.Equal(t, errors.ErrCodeCanceled, errors.CodeOf(err))
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x1","b":1234567890123,"c":null}`), &v))
	assert.Equal(t, ID("x1"), v.A)
	assert.Equal(t, ID("1234567890123"), v.B)
	assert.Equal(t, ID(""), v.C)
}
