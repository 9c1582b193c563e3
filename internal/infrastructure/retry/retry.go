// Package retry runs operations under a bounded exponential backoff budget.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"github.com/waqasmani/autopunch/internal/shared/errors"
)

type Config struct {
	Enabled         bool
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Randomization   float64
	// ShouldRetry decides whether a failure is worth another attempt.
	ShouldRetry func(error) bool
	// Classify labels failures for metrics.
	Classify          func(error) string
	OperationTimeHook func(operation string, duration time.Duration, attempt uint64)
}

// DefaultConfig gives three attempts against external services with
// 1s, 2s backoff (capped at 8s) and 20% jitter.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     8 * time.Second,
		Multiplier:      2.0,
		Randomization:   0.2,
		ShouldRetry:     errors.IsRetryable,
		Classify:        func(err error) string { return string(errors.CodeOf(err)) },
	}
}

func (cfg *Config) MergeWith(override *config.RetryConfig) *Config {
	if override == nil {
		return cfg
	}

	if override.Enabled != nil {
		cfg.Enabled = *override.Enabled
	}
	if override.MaxRetries != nil {
		cfg.MaxRetries = *override.MaxRetries
	}
	if override.InitialInterval != nil {
		cfg.InitialInterval = *override.InitialInterval
	}
	if override.MaxInterval != nil {
		cfg.MaxInterval = *override.MaxInterval
	}
	if override.Multiplier != nil {
		cfg.Multiplier = *override.Multiplier
	}
	if override.Randomization != nil {
		cfg.Randomization = *override.Randomization
	}

	return cfg
}

func (cfg *Config) shouldRetry(err error) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.ShouldRetry != nil {
		return cfg.ShouldRetry(err)
	}
	return errors.IsRetryable(err)
}

func (cfg *Config) classify(err error) string {
	if cfg.Classify != nil {
		return cfg.Classify(err)
	}
	return string(errors.CodeOf(err))
}

type Func func(attempt uint64) error

// Do calls f until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. Cancellation of ctx stops further attempts.
func Do(ctx context.Context, operationName string, f Func, cfg *Config, metrics *observability.Metrics, logger *observability.Logger) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return f(1)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.Multiplier = cfg.Multiplier
	expBackoff.RandomizationFactor = cfg.Randomization
	expBackoff.MaxElapsedTime = 0 // bounded by MaxRetries instead
	expBackoff.Reset()

	startTime := time.Now()
	var attempt uint64 = 0
	var lastErr error

	for {
		attempt++
		lastErr = f(attempt)

		if lastErr == nil {
			if attempt > 1 && cfg.OperationTimeHook != nil {
				cfg.OperationTimeHook(operationName, time.Since(startTime), attempt)
			}
			return nil
		}

		if !cfg.shouldRetry(lastErr) {
			if metrics != nil {
				metrics.RetrySkipped.WithLabelValues(operationName, cfg.classify(lastErr)).Inc()
			}
			return lastErr
		}

		if attempt >= uint64(cfg.MaxRetries) {
			if metrics != nil {
				metrics.RetryMaxAttempts.WithLabelValues(operationName).Inc()
			}
			return lastErr
		}

		if metrics != nil {
			metrics.RetryAttempts.WithLabelValues(operationName, cfg.classify(lastErr)).Inc()
		}

		if logger != nil {
			logger.Warn(ctx, "Retrying operation",
				logger.Field("operation", operationName),
				logger.Field("attempt", attempt),
				logger.Field("max_attempts", cfg.MaxRetries),
				logger.Field("error", lastErr.Error()),
			)
		}

		timer := time.NewTimer(expBackoff.NextBackOff())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(lastErr, errors.ErrCodeCanceled, "retry aborted: "+ctx.Err().Error())
		}
	}
}
