// Package holiday answers whether a calendar day is a rest day, using the
// published holiday-cn yearly calendars.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/breaker"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/infrastructure/retry"
	"github.com/waqasmani/autopunch/internal/modules/calendar"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

type yearFile struct {
	Year int `json:"year"`
	Days []struct {
		Name     string `json:"name"`
		Date     string `json:"date"`
		IsOffDay bool   `json:"isOffDay"`
	} `json:"days"`
}

// Provider caches one calendar per year. Safe for concurrent use.
type Provider struct {
	enabled     bool
	baseURL     string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	retryConfig *retry.Config
	metrics     *observability.Metrics
	logger      *observability.Logger

	mu    sync.RWMutex
	years map[int]map[string]bool
}

func NewProvider(cfg *config.HolidayConfig, breakerCfg config.CBConfig, retryOverride *config.RetryConfig, metrics *observability.Metrics, logger *observability.Logger) *Provider {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Provider{
		enabled:     cfg.Enabled,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		breaker:     breaker.New("holiday", breakerCfg, metrics, logger),
		retryConfig: retry.DefaultConfig().MergeWith(retryOverride),
		metrics:     metrics,
		logger:      logger,
		years:       make(map[int]map[string]bool),
	}
}

// IsHoliday reports whether day is an official rest day. Days the calendar
// does not list follow the weekend rule. A lookup error leaves the decision
// to the caller.
func (p *Provider) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	if !p.enabled {
		return calendar.IsWeekend(day), nil
	}

	days, err := p.year(ctx, day.Year())
	if err != nil {
		p.record("error")
		return false, err
	}
	p.record("ok")

	if off, ok := days[day.Format("2006-01-02")]; ok {
		return off, nil
	}
	return calendar.IsWeekend(day), nil
}

func (p *Provider) year(ctx context.Context, year int) (map[string]bool, error) {
	p.mu.RLock()
	days, ok := p.years[year]
	p.mu.RUnlock()
	if ok {
		return days, nil
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var fetched map[string]bool
		err := retry.Do(ctx, "holiday_fetch", func(attempt uint64) error {
			var err error
			fetched, err = p.fetch(ctx, year)
			return err
		}, p.retryConfig, p.metrics, p.logger)
		return fetched, err
	})
	if err != nil {
		if breaker.Open(err) {
			return nil, errors.Wrap(err, errors.ErrCodeTransient, "holiday lookup suspended")
		}
		return nil, err
	}

	days = result.(map[string]bool)
	p.mu.Lock()
	p.years[year] = days
	p.mu.Unlock()
	return days, nil
}

func (p *Provider) fetch(ctx context.Context, year int) (map[string]bool, error) {
	start := time.Now()
	days, err := p.doFetch(ctx, year)
	if p.metrics != nil {
		p.metrics.RecordExternalCall("holiday", "fetch_year", time.Since(start), err)
	}
	return days, err
}

func (p *Provider) doFetch(ctx context.Context, year int) (map[string]bool, error) {
	url := fmt.Sprintf("%s%d.json", p.baseURL, year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build holiday request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCanceled, "holiday lookup interrupted")
		}
		return nil, errors.Wrap(err, errors.ErrCodeTransient, "holiday calendar unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.New(errors.ErrCodeNotFound, fmt.Sprintf("no holiday calendar published for %d", year))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.New(errors.ErrCodeTransient, fmt.Sprintf("holiday calendar returned %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, errors.New(errors.ErrCodeRejected, fmt.Sprintf("holiday calendar returned %d", resp.StatusCode))
	}

	var file yearFile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&file); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransient, "malformed holiday calendar")
	}

	days := make(map[string]bool, len(file.Days))
	for _, d := range file.Days {
		days[d.Date] = d.IsOffDay
	}
	return days, nil
}

func (p *Provider) record(result string) {
	if p.metrics != nil {
		p.metrics.HolidayLookups.WithLabelValues(result).Inc()
	}
}
