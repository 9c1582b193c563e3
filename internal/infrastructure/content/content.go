// Package content produces report bodies, either from an OpenAI-compatible
// chat completion service or from configured static text.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/infrastructure/retry"
	"github.com/waqasmani/autopunch/internal/shared/domain"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

const completionsPath = "/v1/chat/completions"

// ReportContext is what the generator knows about the report being written.
type ReportContext struct {
	Kind        domain.Kind
	Title       string
	JobAddress  string
	CompanyName string
	Duties      string
	Industry    string
	MinWords    int
}

type Generator interface {
	Generate(ctx context.Context, rc ReportContext) (string, error)
}

// StaticGenerator returns fixed text.
type StaticGenerator struct {
	Text string
}

func (g StaticGenerator) Generate(ctx context.Context, rc ReportContext) (string, error) {
	if strings.TrimSpace(g.Text) == "" {
		return "", errors.New(errors.ErrCodeContentGeneration, "no static content configured")
	}
	return g.Text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// AIGenerator talks to an OpenAI-compatible completions endpoint.
type AIGenerator struct {
	httpClient  *http.Client
	url         string
	apiKey      string
	model       string
	minWords    int
	timeout     time.Duration
	retryConfig *retry.Config
	metrics     *observability.Metrics
	logger      *observability.Logger
}

func NewGenerator(ai domain.AIConfig, cfg *config.ContentConfig, metrics *observability.Metrics, logger *observability.Logger) *AIGenerator {
	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	return &AIGenerator{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		url:         strings.TrimRight(ai.APIURL, "/") + completionsPath,
		apiKey:      ai.APIKey,
		model:       ai.Model,
		minWords:    cfg.MinWords,
		timeout:     cfg.Timeout,
		retryConfig: retryCfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// WithRetryConfig replaces the retry budget.
func (g *AIGenerator) WithRetryConfig(cfg *retry.Config) *AIGenerator {
	g.retryConfig = cfg
	return g
}

func (g *AIGenerator) Generate(ctx context.Context, rc ReportContext) (string, error) {
	words := rc.MinWords
	if words <= 0 {
		words = g.minWords
	}
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(words)},
			{Role: "user", Content: UserPrompt(rc)},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to encode completion request")
	}

	var text string
	err = retry.Do(ctx, "content_generate", func(attempt uint64) error {
		start := time.Now()
		var err error
		text, err = g.complete(ctx, payload)
		if g.metrics != nil {
			g.metrics.RecordExternalCall("content", "chat_completion", time.Since(start), err)
		}
		return err
	}, g.retryConfig, g.metrics, g.logger)

	if err != nil {
		g.record("failed")
		if errors.CodeOf(err) == errors.ErrCodeCanceled {
			return "", err
		}
		return "", errors.Wrap(err, errors.ErrCodeContentGeneration, "report content generation failed")
	}
	g.record("ok")
	return text, nil
}

func (g *AIGenerator) complete(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to build completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return "", errors.Wrap(err, errors.ErrCodeCanceled, "completion request interrupted")
		}
		return "", errors.Wrap(err, errors.ErrCodeTransient, "completion service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeTransient, "failed to read completion response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", errors.New(errors.ErrCodeTransient, fmt.Sprintf("completion service returned %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return "", errors.New(errors.ErrCodeRejected, fmt.Sprintf("completion service returned %d", resp.StatusCode))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeContentGeneration, "malformed completion response")
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New(errors.ErrCodeContentGeneration, "completion response carried no content")
	}
	return out.Choices[0].Message.Content, nil
}

func (g *AIGenerator) record(result string) {
	if g.metrics != nil {
		g.metrics.ContentGenerations.WithLabelValues("ai", result).Inc()
	}
}

func SystemPrompt(minWords int) string {
	return fmt.Sprintf("根据用户提供的信息撰写一篇文章，内容流畅且符合中文语法规范，"+
		"不得使用 Markdown 语法，字数不少于 %d 字。"+
		"文章需与职位描述相关，并符合以下模板："+
		"\n\n模板：\n实习地点：xxxx\n\n工作内容：\n\nxxxxxx\n\n工作总结：\n\nxxxxxx\n\n"+
		"遇到问题：\n\nxxxxxx\n\n自我评价：\n\nxxxxxx", minWords)
}

func UserPrompt(rc ReportContext) string {
	return fmt.Sprintf("相关资料：报告标题：%s，工作地点：%s; 公司名：%s; 岗位职责：%s; 公司所属行业：%s",
		rc.Title,
		orDefault(rc.JobAddress, "未知"),
		orDefault(rc.CompanyName, "未知"),
		orDefault(rc.Duties, "未提供"),
		orDefault(rc.Industry, "未提供"),
	)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
