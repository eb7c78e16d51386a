package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMetrics struct {
	mu        sync.Mutex
	latencies []map[string]string
	counts    []map[string]string
}

func (m *recordedMetrics) RecordLatency(_ string, labels map[string]string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, labels)
}

func (m *recordedMetrics) RecordCount(_ string, labels map[string]string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = append(m.counts, labels)
}

func TestExecutePassesResultThrough(t *testing.T) {
	metrics := &recordedMetrics{}
	l := NewLimiter(100, metrics)

	got, err := Execute(context.Background(), l, "CloudWatch/GetMetricData",
		CallLabels("CloudWatch/GetMetricData", "123", "us-east-1"),
		func() (string, error) { return "ok", nil })

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, metrics.latencies, 1)
	assert.Len(t, metrics.counts, 1)
	assert.Equal(t, "us-east-1", metrics.counts[0]["region"])
}

func TestExecutePropagatesErrorAndStillRecords(t *testing.T) {
	metrics := &recordedMetrics{}
	l := NewLimiter(100, metrics)
	boom := errors.New("throttled by remote")

	_, err := Execute(context.Background(), l, "CloudWatch/DescribeAlarms",
		CallLabels("CloudWatch/DescribeAlarms", "123", "us-east-1"),
		func() (int, error) { return 0, boom })

	assert.ErrorIs(t, err, boom)
	// Telemetry is unconditional.
	assert.Len(t, metrics.latencies, 1)
	assert.Len(t, metrics.counts, 1)
}

func TestExecuteThrottlesPerOperationKey(t *testing.T) {
	metrics := &recordedMetrics{}
	// 20 calls/sec with burst 1: the third call on one key needs ~100ms.
	l := NewLimiter(20, metrics)

	call := func() (int, error) { return 1, nil }
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), l, "op", nil, call)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestUnrelatedKeysDoNotSerialize(t *testing.T) {
	metrics := &recordedMetrics{}
	// 2 calls/sec: a second call on the same key would wait ~500ms, but
	// distinct keys each have their own bucket.
	l := NewLimiter(2, metrics)

	start := time.Now()
	_, err := Execute(context.Background(), l, "op-a", nil, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = Execute(context.Background(), l, "op-b", nil, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	metrics := &recordedMetrics{}
	l := NewLimiter(0.1, metrics)

	// Drain the single burst token.
	_, err := Execute(context.Background(), l, "op", nil, func() (int, error) { return 1, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	_, err = Execute(ctx, l, "op", nil, func() (int, error) { called = true; return 1, nil })
	assert.Error(t, err)
	assert.False(t, called)
}

func TestConcurrentExecute(t *testing.T) {
	metrics := &recordedMetrics{}
	l := NewLimiter(1000, metrics)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			op := []string{"op-a", "op-b"}[n%2]
			for j := 0; j < 10; j++ {
				_, _ = Execute(context.Background(), l, op, nil, func() (int, error) { return 1, nil })
			}
		}(i)
	}
	wg.Wait()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Len(t, metrics.counts, 80)
}
