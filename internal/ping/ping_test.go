package ping

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
)

// scriptedPinger replays one latency per attempt; a negative entry fails
// the attempt with a timeout.
type scriptedPinger struct {
	mu        sync.Mutex
	latencies []time.Duration
	calls     int
	onEcho    func(call int)
}

func (s *scriptedPinger) Echo(ctx context.Context, host string, _ time.Duration) probe.Outcome {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()

	if s.onEcho != nil {
		s.onEcho(call)
	}
	target := probe.HostTarget(host)
	if err := ctx.Err(); err != nil {
		return probe.Failed(target, err)
	}
	if call >= len(s.latencies) || s.latencies[call] < 0 {
		return probe.FailedWithKind(target, errors.CodeTimeout, "request timed out")
	}
	out := probe.Succeeded(target, s.latencies[call], "reply")
	out.TTL = 64
	return out
}

func (s *scriptedPinger) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Metrics = metrics.NewRegistry()
	return opts
}

func TestRunMeanOverSuccessesOnly(t *testing.T) {
	pinger := &scriptedPinger{latencies: []time.Duration{ms(10), -1, ms(30), -1}}

	summary, err := Run(context.Background(), pinger, "192.168.1.1", testOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", summary.Host)
	assert.Equal(t, 4, summary.Sent())
	assert.Equal(t, 2, summary.SuccessCount)
	require.NotNil(t, summary.MeanLatencyMs)
	assert.InDelta(t, 20.0, *summary.MeanLatencyMs, 0.0001)
	assert.Equal(t, StateOK, summary.State())
	assert.InDelta(t, 0.5, summary.Loss(), 0.0001)

	assert.True(t, summary.Attempts[0].Success)
	assert.Equal(t, errors.CodeTimeout, summary.Attempts[1].ErrorKind)
}

func TestRunAllAttemptsFail(t *testing.T) {
	pinger := &scriptedPinger{latencies: []time.Duration{-1, -1, -1, -1}}

	summary, err := Run(context.Background(), pinger, "10.0.0.99", testOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.SuccessCount)
	assert.Nil(t, summary.MeanLatencyMs)
	assert.Equal(t, StateTimeout, summary.State())
	assert.Equal(t, 4, summary.Sent())
	assert.InDelta(t, 1.0, summary.Loss(), 0.0001)
}

func TestRunObserverSeesEachAttemptInOrder(t *testing.T) {
	pinger := &scriptedPinger{latencies: []time.Duration{ms(1), ms(2), ms(3)}}
	opts := testOptions()
	opts.Attempts = 3

	var seen []int
	_, err := Run(context.Background(), pinger, "h", opts, func(attempt int, out probe.Outcome) {
		seen = append(seen, attempt)
		assert.True(t, out.Success)
		assert.Equal(t, 64, out.TTL)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRunValidatesHost(t *testing.T) {
	_, err := Run(context.Background(), &scriptedPinger{}, "  ", testOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestRunDefaults(t *testing.T) {
	pinger := &scriptedPinger{}
	summary, err := Run(context.Background(), pinger, "h", Options{Metrics: metrics.NewRegistry()}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAttempts, pinger.Calls())
	assert.Equal(t, DefaultAttempts, summary.Sent())
}

func TestRunCancellationStopsFurtherAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pinger := &scriptedPinger{
		latencies: []time.Duration{ms(5), ms(5), ms(5), ms(5)},
		onEcho: func(call int) {
			if call == 1 {
				cancel()
			}
		},
	}

	summary, err := Run(ctx, pinger, "h", testOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))

	require.NotNil(t, summary)
	assert.Equal(t, 2, pinger.Calls())
	assert.Equal(t, 1, summary.Sent())
	assert.Equal(t, 1, summary.SuccessCount)
	require.NotNil(t, summary.MeanLatencyMs)
	assert.InDelta(t, 5.0, *summary.MeanLatencyMs, 0.0001)
}

func TestRunCancellationDuringInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pinger := &scriptedPinger{latencies: []time.Duration{ms(1), ms(1)}}
	opts := testOptions()
	opts.Attempts = 2
	opts.Interval = time.Hour

	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	summary, err := Run(ctx, pinger, "h", opts, nil)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	assert.Equal(t, 1, summary.Sent())
}

func TestRunRecordsMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	opts := testOptions()
	opts.Metrics = registry
	opts.Attempts = 2

	_, err := Run(context.Background(), &scriptedPinger{latencies: []time.Duration{ms(1), -1}}, "h", opts, nil)
	require.NoError(t, err)

	all := registry.GetMetrics()
	var probes float64
	for _, m := range all {
		if m.Name == metrics.MetricProbesTotal {
			probes += m.Value
		}
	}
	assert.Equal(t, 2.0, probes)
}
