// Package gateway talks to the internship attendance service over its JSON
// HTTP API and maps every response onto the shared error codes.
package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/infrastructure/retry"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

const (
	serviceName = "gateway"

	codeOK          = 200
	codeOKCaptcha   = 6111
	tokenExpiredMsg = "token失效"

	maxBodyBytes = 4 << 20
)

type Client struct {
	httpClient  *http.Client
	baseURL     string
	uploadURL   string
	signSalt    string
	userAgent   string
	appVersion  string
	retryConfig *retry.Config
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

func NewClient(cfg *config.GatewayConfig, metrics *observability.Metrics, logger *observability.Logger) *Client {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     baseURL,
		uploadURL:   cfg.UploadURL,
		signSalt:    cfg.SignSalt,
		userAgent:   cfg.UserAgent,
		appVersion:  cfg.AppVersion,
		retryConfig: retry.DefaultConfig().MergeWith(&cfg.Retry),
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Sign is the md5 request signature over the ordered fields plus the salt.
func (c *Client) Sign(fields ...string) string {
	sum := md5.Sum([]byte(strings.Join(fields, "") + c.signSalt))
	return hex.EncodeToString(sum[:])
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// post sends one JSON request under the retry budget. Only transient
// failures are retried.
func (c *Client) post(ctx context.Context, operation, path string, session *domain.Session, sign []string, body interface{}) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode request")
	}

	var env *envelope
	err = c.withRetry(ctx, operation, func() error {
		var callErr error
		env, callErr = c.send(ctx, path, session, sign, payload)
		return callErr
	})

	return env, err
}

func (c *Client) withRetry(ctx context.Context, operation string, f func() error) error {
	return retry.Do(ctx, "gateway_"+operation, func(attempt uint64) error {
		start := time.Now()
		err := f()
		if c.metrics != nil {
			c.metrics.RecordExternalCall(serviceName, operation, time.Since(start), err)
		}
		return err
	}, c.retryConfig, c.metrics, c.logger)
}

func (c *Client) send(ctx context.Context, path string, session *domain.Session, sign []string, payload []byte) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build request")
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", c.userAgent)
	if session != nil {
		req.Header.Set("authorization", session.Token)
		req.Header.Set("userid", session.UserID)
		req.Header.Set("rolekey", session.RoleKey)
	}
	if len(sign) > 0 && c.signSalt != "" {
		req.Header.Set("sign", c.Sign(sign...))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransient, "malformed response from attendance service")
	}

	switch {
	case env.Code == codeOK || env.Code == codeOKCaptcha:
		return &env, nil
	case env.Code == http.StatusUnauthorized || strings.Contains(env.Msg, tokenExpiredMsg):
		return nil, errors.WithDetails(errors.ErrCodeAuthExpired, "session expired", env.Msg)
	default:
		return nil, errors.WithDetails(errors.ErrCodeRejected, rejectionMessage(env.Msg), env.Code)
	}
}

func rejectionMessage(msg string) string {
	if msg == "" {
		return "request rejected by attendance service"
	}
	return msg
}

// transportError classifies failures below HTTP. A canceled context means
// the outcome of an in-flight request is unknown.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(err, errors.ErrCodeCanceled, "request interrupted, outcome unknown")
	}
	return errors.Wrap(err, errors.ErrCodeTransient, "network failure")
}

func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return errors.New(errors.ErrCodeAuthExpired, "session expired")
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.WithDetails(errors.ErrCodeTransient, fmt.Sprintf("attendance service returned %d", status), truncate(body))
	default:
		return errors.WithDetails(errors.ErrCodeRejected, fmt.Sprintf("attendance service returned %d", status), truncate(body))
	}
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}

// decodeData unmarshals the envelope's data, which the service sometimes
// sends as a JSON document embedded in a string.
func decodeData(raw json.RawMessage, out interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = json.RawMessage(inner)
	}
	return json.Unmarshal(raw, out)
}

func isAuthFailure(err error) bool {
	code := errors.CodeOf(err)
	return code == errors.ErrCodeRejected || code == errors.ErrCodeAuthExpired
}
