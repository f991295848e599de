package scanning

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/targets"
)

// stubConnector answers from a fixed port table; unknown ports are refused.
type stubConnector struct {
	open     map[int]time.Duration
	filtered map[int]bool
	block    bool

	mu      sync.Mutex
	calls   []int
	active  atomic.Int32
	started atomic.Int32
}

func (s *stubConnector) TCPConnect(ctx context.Context, host string, port int, timeout time.Duration) probe.Outcome {
	s.mu.Lock()
	s.calls = append(s.calls, port)
	s.mu.Unlock()

	s.active.Add(1)
	defer s.active.Add(-1)
	s.started.Add(1)

	target := probe.PortTarget(host, port)
	if s.block {
		select {
		case <-ctx.Done():
			return probe.Failed(target, ctx.Err())
		case <-time.After(timeout):
			return probe.FailedWithKind(target, errors.CodeTimeout, "timeout")
		}
	}
	if latency, ok := s.open[port]; ok {
		return probe.Succeeded(target, latency, "open")
	}
	if s.filtered[port] {
		return probe.FailedWithKind(target, errors.CodeTimeout, "timeout")
	}
	return probe.FailedWithKind(target, errors.CodeRefused, "connection refused")
}

func newRequest(t *testing.T, host, spec string) *targets.ScanRequest {
	t.Helper()
	req, err := targets.NewScanRequest(host, spec, targets.RequestOptions{})
	require.NoError(t, err)
	return req
}

func TestScanReportsOpenPortsAscending(t *testing.T) {
	connector := &stubConnector{
		open:     map[int]time.Duration{443: 3 * time.Millisecond, 22: time.Millisecond},
		filtered: map[int]bool{8080: true},
	}
	scanner := New(Config{Connector: connector, Metrics: metrics.NewRegistry()})

	summary, err := scanner.Scan(context.Background(), newRequest(t, "192.168.1.10", "443,80,22,8080"))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", summary.Host)
	assert.Equal(t, 4, summary.Scanned)
	assert.Equal(t, []int{22, 443}, summary.Open)
	assert.Len(t, connector.calls, 4)
	assert.False(t, summary.EndTime.Before(summary.StartTime))

	ports := summary.Ports()
	require.Len(t, ports, 4)
	assert.Equal(t, Port{Number: 22, State: StateOpen, LatencyMs: ptr(uint(1))}, ports[0])
	assert.Equal(t, StateClosed, ports[1].State)
	assert.Equal(t, errors.CodeRefused, ports[1].ErrorKind)
	assert.Equal(t, StateOpen, ports[2].State)
	assert.Equal(t, StateFiltered, ports[3].State)
}

func ptr[T any](v T) *T { return &v }

func TestScanSameRequestTwiceIsIdentical(t *testing.T) {
	connector := &stubConnector{
		open:     map[int]time.Duration{22: time.Millisecond, 8443: 4 * time.Millisecond},
		filtered: map[int]bool{3389: true},
	}
	scanner := New(Config{Connector: connector, Metrics: metrics.NewRegistry()})
	req := newRequest(t, "10.0.0.5", "8443,22,80,3389,1-5")

	first, err := scanner.Scan(context.Background(), req)
	require.NoError(t, err)
	second, err := scanner.Scan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []int{22, 8443}, first.Open)
	assert.Equal(t, first.Open, second.Open)
	assert.Equal(t, first.Scanned, second.Scanned)
	assert.Equal(t, first.Ports(), second.Ports())
	assert.Len(t, connector.calls, 2*len(req.Targets))
}

func TestScanNoOpenPorts(t *testing.T) {
	scanner := New(Config{Connector: &stubConnector{}, Metrics: metrics.NewRegistry()})

	summary, err := scanner.Scan(context.Background(), newRequest(t, "10.0.0.1", "1-20"))
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Scanned)
	assert.NotNil(t, summary.Open)
	assert.Empty(t, summary.Open)
}

func TestScanRejectsInvalidRequests(t *testing.T) {
	scanner := New(Config{Connector: &stubConnector{}, Metrics: metrics.NewRegistry()})

	_, err := scanner.Scan(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = scanner.Scan(context.Background(), &targets.ScanRequest{Host: "h"})
	assert.ErrorContains(t, err, "no valid targets")

	req := newRequest(t, "h", "1-5")
	req.MaxTargetCount = 2
	_, err = scanner.Scan(context.Background(), req)
	assert.ErrorContains(t, err, "too many targets")
}

func TestScanCancellationReturnsPartialSummary(t *testing.T) {
	connector := &stubConnector{block: true}
	scanner := New(Config{Connector: connector, Metrics: metrics.NewRegistry()})

	req := newRequest(t, "h", "1-100")
	req.MaxConcurrency = 10
	req.PerProbeTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for connector.started.Load() < 10 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	summary, err := scanner.Scan(ctx, req)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	require.NotNil(t, summary)
	assert.Less(t, summary.Scanned, 100)
	assert.Empty(t, summary.Open)
	assert.Equal(t, int32(0), connector.active.Load())
}

func TestScanRecordsOpenPortMetric(t *testing.T) {
	registry := metrics.NewRegistry()
	connector := &stubConnector{open: map[int]time.Duration{80: 0, 81: 0}}
	scanner := New(Config{Connector: connector, Metrics: registry})

	_, err := scanner.Scan(context.Background(), newRequest(t, "h", "80-82"))
	require.NoError(t, err)

	found := false
	for _, m := range registry.GetMetrics() {
		if m.Name == metrics.MetricOpenPorts {
			found = true
			assert.Equal(t, 2.0, m.Value)
		}
	}
	assert.True(t, found)
}

func TestScanAgainstLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	scanner := New(Config{Connector: probe.NewProber(probe.NewLimiter(8)), Metrics: metrics.NewRegistry()})

	summary, err := scanner.Scan(context.Background(), newRequest(t, "127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	assert.Equal(t, []int{port}, summary.Open)
}

func TestPortState(t *testing.T) {
	target := probe.PortTarget("h", 1)
	tests := []struct {
		out  probe.Outcome
		want string
	}{
		{probe.Succeeded(target, 0, "open"), StateOpen},
		{probe.FailedWithKind(target, errors.CodeRefused, ""), StateClosed},
		{probe.FailedWithKind(target, errors.CodeTimeout, ""), StateFiltered},
		{probe.FailedWithKind(target, errors.CodeUnreachable, ""), StateFiltered},
		{probe.FailedWithKind(target, errors.CodeNameResolution, ""), StateError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PortState(tt.out), string(tt.out.ErrorKind))
	}
}
