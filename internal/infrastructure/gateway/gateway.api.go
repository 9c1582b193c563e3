package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

const (
	pathLogin       = "session/user/v6/login"
	pathPlan        = "practice/plan/v3/getPlanByStu"
	pathJobInfo     = "practice/job/v4/infoByStu"
	pathReportList  = "practice/paper/v2/listByStu"
	pathReportSave  = "practice/paper/v6/save"
	pathClockInSave = "attendence/clock/v5/save"
	pathUploadToken = "session/upload/v1/token"
)

// Login exchanges credentials for a session. Plan metadata is not filled
// in; call Probe for that.
func (c *Client) Login(ctx context.Context, creds domain.Credentials, device string) (*domain.Session, error) {
	req := loginRequest{
		Phone:     creds.Phone,
		Password:  creds.Password,
		LoginType: "android",
		UUID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		Device:    device,
		Version:   c.appVersion,
		T:         c.timestamp(),
	}

	env, err := c.post(ctx, "login", pathLogin, nil, nil, req)
	if err != nil {
		if isAuthFailure(err) {
			return nil, errors.Wrap(err, errors.ErrCodeAuth, "login rejected")
		}
		return nil, err
	}

	var info userInfo
	if err := decodeData(env.Data, &info); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAuth, "unreadable login response")
	}
	if info.Token == "" {
		return nil, errors.New(errors.ErrCodeAuth, "login response carried no token")
	}

	return &domain.Session{
		Token:    info.Token,
		UserID:   info.UserID.String(),
		RoleKey:  info.RoleKey,
		OrgID:    info.OrgJSON.SnowFlakeID.String(),
		Nickname: info.Nickname,
		IssuedAt: c.now(),
	}, nil
}

// Probe fetches the student's current plan. It is cheap enough to double
// as a session validity check.
func (c *Client) Probe(ctx context.Context, session *domain.Session) (*Plan, error) {
	body := map[string]interface{}{
		"pageSize": 999999,
		"t":        c.timestamp(),
	}

	env, err := c.post(ctx, "plan", pathPlan, session, []string{session.UserID, session.RoleKey}, body)
	if err != nil {
		return nil, err
	}

	var plans []Plan
	if err := decodeData(env.Data, &plans); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransient, "unreadable plan list")
	}
	if len(plans) == 0 || plans[0].PlanID == "" {
		return nil, errors.New(errors.ErrCodeConfig, "no internship plan assigned to this account")
	}
	return &plans[0], nil
}

func (c *Client) JobInfo(ctx context.Context, session *domain.Session) (*JobInfo, error) {
	body := map[string]interface{}{
		"planId": session.PlanID,
		"t":      c.timestamp(),
	}

	env, err := c.post(ctx, "job_info", pathJobInfo, session, nil, body)
	if err != nil {
		return nil, err
	}

	job := &JobInfo{}
	if err := decodeData(env.Data, job); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransient, "unreadable job info")
	}
	return job, nil
}

// ReportCount returns how many reports of reportType were already filed.
func (c *Client) ReportCount(ctx context.Context, session *domain.Session, reportType string) (int, error) {
	body := map[string]interface{}{
		"currPage":   1,
		"pageSize":   10,
		"reportType": reportType,
		"planId":     session.PlanID,
		"t":          c.timestamp(),
	}

	env, err := c.post(ctx, "report_count", pathReportList, session, []string{session.UserID, session.RoleKey, reportType}, body)
	if err != nil {
		return 0, err
	}

	var flag int
	if len(env.Flag) > 0 && string(env.Flag) != "null" && json.Unmarshal(env.Flag, &flag) == nil {
		return flag, nil
	}

	var items []json.RawMessage
	if err := decodeData(env.Data, &items); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeTransient, "unreadable report list")
	}
	return len(items), nil
}

func (c *Client) SubmitReport(ctx context.Context, session *domain.Session, p ReportPayload) error {
	body := map[string]interface{}{
		"reportType":       p.ReportType,
		"title":            p.Title,
		"content":          p.Content,
		"planId":           session.PlanID,
		"jobId":            p.JobID,
		"attachments":      p.Attachments,
		"reportTime":       nullable(p.ReportTime),
		"startTime":        nullable(p.StartTime),
		"endTime":          nullable(p.EndTime),
		"weeks":            nullable(p.Weeks),
		"yearmonth":        nullable(p.YearMonth),
		"formFieldDtoList": []interface{}{},
		"fieldEntityList":  []interface{}{},
		"isWarning":        0,
		"t":                c.timestamp(),
	}

	sign := []string{session.UserID, p.ReportType, session.PlanID, p.Title}
	_, err := c.post(ctx, "submit_report", pathReportSave, session, sign, body)
	return err
}

func (c *Client) ClockIn(ctx context.Context, session *domain.Session, p ClockInPayload) error {
	createTime := p.CreateTime
	if createTime == "" {
		createTime = c.now().Format("2006-01-02 15:04:05")
	}

	country := p.Location.Country
	if country == "" {
		country = "中国"
	}

	body := map[string]interface{}{
		"type":              p.Type,
		"device":            p.Device,
		"planId":            session.PlanID,
		"userId":            session.UserID,
		"address":           p.Location.Address,
		"lastDetailAddress": p.Location.Address,
		"latitude":          p.Location.Latitude,
		"longitude":         p.Location.Longitude,
		"country":           country,
		"province":          p.Location.Province,
		"city":              p.Location.City,
		"area":              p.Location.Area,
		"description":       nullable(p.Description),
		"attachments":       nullable(p.Attachments),
		"state":             "NORMAL",
		"createTime":        createTime,
		"t":                 c.timestamp(),
	}

	sign := []string{p.Device, p.Type, session.PlanID, session.UserID, p.Location.Address}
	_, err := c.post(ctx, "clock_in", pathClockInSave, session, sign, body)
	return err
}

func (c *Client) UploadToken(ctx context.Context, session *domain.Session) (string, error) {
	env, err := c.post(ctx, "upload_token", pathUploadToken, session, nil, map[string]interface{}{"t": c.timestamp()})
	if err != nil {
		return "", err
	}

	var token string
	if err := json.Unmarshal(env.Data, &token); err != nil || token == "" {
		return "", errors.New(errors.ErrCodeRejected, "upload token missing from response")
	}
	return token, nil
}

// UploadKey builds the object key an attachment is stored under.
func UploadKey(orgID, userID string, now time.Time) string {
	return fmt.Sprintf("upload/%s/%s/report/%s_%d.jpg", orgID, now.Format("2006-01-02"), userID, now.UnixMicro())
}

// UploadImage stores one JPEG with the object storage service and returns
// the attachment reference to put in a submission.
func (c *Client) UploadImage(ctx context.Context, session *domain.Session, token string, image []byte) (string, error) {
	now := c.now()
	key := UploadKey(session.OrgID, session.UserID, now)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("token", token)
	_ = w.WriteField("key", key)
	_ = w.WriteField("x-qn-meta-fname", fmt.Sprintf("%d.jpg", now.UnixMilli()))
	part, err := w.CreateFormFile("file", key)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build upload form")
	}
	if _, err := part.Write(image); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build upload form")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build upload form")
	}
	form := buf.Bytes()

	var uploaded string
	err = c.withRetry(ctx, "upload_image", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, bytes.NewReader(form))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to build upload request")
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transportError(ctx, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return transportError(ctx, err)
		}
		if err := statusError(resp.StatusCode, body); err != nil {
			return err
		}

		var out uploadResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return errors.Wrap(err, errors.ErrCodeTransient, "malformed upload response")
		}
		uploaded = strings.TrimPrefix(out.Key, "upload/")
		return nil
	})
	if err != nil {
		return "", err
	}
	if uploaded == "" {
		return "", errors.New(errors.ErrCodeRejected, "upload response carried no key")
	}
	return uploaded, nil
}

// UploadImages uploads each image under one upload token and returns the
// comma-joined attachment references. Images that fail to upload are left
// out; only a failure to obtain the token is returned.
func (c *Client) UploadImages(ctx context.Context, session *domain.Session, images [][]byte) (string, error) {
	if len(images) == 0 {
		return "", nil
	}

	token, err := c.UploadToken(ctx, session)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(images))
	for i, img := range images {
		key, err := c.UploadImage(ctx, session, token, img)
		if err != nil {
			c.recordUpload("failed")
			if c.logger != nil {
				c.logger.Warn(ctx, "Skipping attachment that failed to upload",
					c.logger.Field("index", i),
					c.logger.Field("error", err.Error()),
				)
			}
			if errors.CodeOf(err) == errors.ErrCodeCanceled {
				return strings.Join(keys, ","), err
			}
			continue
		}
		c.recordUpload("ok")
		keys = append(keys, key)
	}
	return strings.Join(keys, ","), nil
}

func (c *Client) recordUpload(result string) {
	if c.metrics != nil {
		c.metrics.ImageUploads.WithLabelValues(result).Inc()
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
