// Package breaker builds the circuit breakers that guard optional outbound
// integrations.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/waqasmani/autopunch/internal/config"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"go.uber.org/zap"
)

// New returns a breaker named name. When cfg is disabled the breaker never
// trips.
func New(name string, cfg config.CBConfig, metrics *observability.Metrics, logger *observability.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	settings := gobreaker.Settings{
		Name: name,
		// MaxRequests bounds the half-open probe traffic.
		MaxRequests: cfg.MaxFailures,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if !cfg.Enabled || counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= cfg.MaxFailures && failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from_state", from.String()),
				zap.String("to_state", to.String()),
				zap.Time("timestamp", time.Now()),
			)

			// 0=closed, 0.5=half_open, 1=open
			stateValue := 0.0
			switch to {
			case gobreaker.StateOpen:
				stateValue = 1.0
			case gobreaker.StateHalfOpen:
				stateValue = 0.5
			}
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue)
				metrics.CircuitBreakerEvents.WithLabelValues(name, "state_change", from.String()+"_to_"+to.String()).Inc()
			}
		},
	}

	return gobreaker.NewCircuitBreaker(settings)
}

// Open reports whether err came from a breaker refusing the call.
func Open(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
