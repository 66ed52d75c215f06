// Package decorators wraps SnapshotStore and HistoryLog implementations with
// cross-cutting behaviour. Order used by the container:
// Base -> Circuit Breaker -> Logging.
package decorators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Eashwar-S/knowledge-map/application/ports"
	"github.com/Eashwar-S/knowledge-map/domain/versioning"
	pkgerrors "github.com/Eashwar-S/knowledge-map/pkg/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CircuitBreakerConfig holds configuration for the history circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests let through while half-open
	Interval         time.Duration // closed-state window for resetting counts
	Timeout          time.Duration // how long the breaker stays open
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerConfig returns the defaults used when config leaves
// fields unset
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "history-log",
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// CircuitBreakerHistoryLog fails appends fast while the wrapped log keeps
// failing. List is not guarded.
type CircuitBreakerHistoryLog struct {
	inner  ports.HistoryLog
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewCircuitBreakerHistoryLog wraps inner
func NewCircuitBreakerHistoryLog(inner ports.HistoryLog, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerHistoryLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &CircuitBreakerHistoryLog{inner: inner, logger: logger}
	d.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isBackendHealthy,
	})
	return d
}

// isBackendHealthy reports whether err says nothing about the backend's
// health. Duplicates and cancelled callers do not count as failures.
func isBackendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ports.ErrDuplicateRecord) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// State exposes the breaker state
func (d *CircuitBreakerHistoryLog) State() gobreaker.State {
	return d.cb.State()
}

// Append forwards to the wrapped log unless the breaker is open
func (d *CircuitBreakerHistoryLog) Append(ctx context.Context, record versioning.HistoryRecord) error {
	_, err := d.cb.Execute(func() (interface{}, error) {
		return nil, d.inner.Append(ctx, record)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewIOError("append history", fmt.Errorf("%s: %w", d.cb.Name(), err))
	}
	return err
}

// List always reaches the wrapped log
func (d *CircuitBreakerHistoryLog) List(ctx context.Context, graphName string) ([]versioning.HistoryRecord, error) {
	return d.inner.List(ctx, graphName)
}
