// Package ratelimit gates outbound AWS calls so a configured per-operation
// ceiling is never exceeded, and records call telemetry on the way through.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yairfalse/virta/telemetry"
)

// Metrics receives latency and count observations for every wrapped call.
// Implemented by telemetry.Collector.
type Metrics interface {
	RecordLatency(name string, labels map[string]string, millis float64)
	RecordCount(name string, labels map[string]string, n int)
}

// Limiter admission-controls remote calls per operation key. Keys are
// logical operation names ("CloudWatch/GetMetricData"); the throttle is
// process-wide per key, independent of account and region. Safe for
// concurrent use; unrelated keys never serialize each other.
type Limiter struct {
	callsPerSecond float64
	metrics        Metrics

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiter builds a limiter allowing callsPerSecond completed calls per
// operation key.
func NewLimiter(callsPerSecond float64, metrics Metrics) *Limiter {
	return &Limiter{
		callsPerSecond: callsPerSecond,
		metrics:        metrics,
		limiters:       make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limiterFor(operation string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[operation]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[operation]; !ok {
		lim = rate.NewLimiter(rate.Limit(l.callsPerSecond), 1)
		l.limiters[operation] = lim
	}
	return lim
}

// Execute runs call under admission control for operation. Latency and a
// call counter are recorded whether or not call fails; the result and error
// pass through unchanged and nothing is retried here.
func Execute[T any](ctx context.Context, l *Limiter, operation string, labels map[string]string, call func() (T, error)) (T, error) {
	if err := l.limiterFor(operation).Wait(ctx); err != nil {
		var zero T
		return zero, err
	}

	start := time.Now()
	result, err := call()
	elapsed := time.Since(start)

	l.metrics.RecordLatency(telemetry.LatencyMetric, labels, float64(elapsed.Milliseconds()))
	l.metrics.RecordCount(telemetry.CallsMetric, labels, 1)
	return result, err
}

// CallLabels builds the canonical label set for an instrumented call.
func CallLabels(operation, account, region string) map[string]string {
	labels := map[string]string{
		telemetry.OperationLabel: operation,
		telemetry.RegionLabel:    region,
	}
	if account != "" {
		labels[telemetry.AccountLabel] = account
	}
	return labels
}
