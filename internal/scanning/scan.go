package scanning

import (
	"context"
	"sort"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/targets"
	"github.com/anstrom/lanprobe/internal/workers"
)

// Connector runs a single TCP connect probe. *probe.Prober satisfies it.
type Connector interface {
	TCPConnect(ctx context.Context, host string, port int, timeout time.Duration) probe.Outcome
}

// Config holds the scanner's collaborators.
type Config struct {
	Connector Connector
	Metrics   metrics.MetricsRegistry
	Logger    *logging.Logger
}

// Scanner fans TCP connect probes out over the ports of a scan request.
type Scanner struct {
	connector Connector
	registry  metrics.MetricsRegistry
	logger    *logging.Logger
}

// New creates a scanner. A nil Connector probes through an unlimited
// probe.Prober.
func New(config Config) *Scanner {
	if config.Connector == nil {
		config.Connector = probe.NewProber(nil)
	}
	if config.Metrics == nil {
		config.Metrics = metrics.Default()
	}
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	return &Scanner{
		connector: config.Connector,
		registry:  config.Metrics,
		logger:    config.Logger.WithComponent("scanning"),
	}
}

// Scan probes every target of req and returns the open ports in ascending
// order. Per-port failures are data in Summary.Outcomes, not errors.
func (s *Scanner) Scan(ctx context.Context, req *targets.ScanRequest) (*Summary, error) {
	return s.ScanObserved(ctx, req, nil)
}

// ScanObserved is Scan with a per-port progress observer.
func (s *Scanner) ScanObserved(ctx context.Context, req *targets.ScanRequest, observer workers.Observer) (*Summary, error) {
	if req == nil || req.Host == "" {
		return nil, errors.ErrValidation("scan request is required")
	}
	if len(req.Targets) == 0 {
		return nil, errors.ErrNoValidTargets()
	}
	if req.MaxTargetCount > 0 && len(req.Targets) > req.MaxTargetCount {
		return nil, errors.ErrTooManyTargets(len(req.Targets), req.MaxTargetCount)
	}

	logger := s.logger.WithTarget(req.Host)
	logger.Info("Starting port scan",
		"ports", len(req.Targets),
		"timeout", req.PerProbeTimeout,
		"concurrency", req.MaxConcurrency)

	summary := NewSummary(req.Host)
	pool := workers.New(workers.Config{
		Size:    req.MaxConcurrency,
		Kind:    metrics.KindTCP,
		Metrics: s.registry,
		Logger:  s.logger,
	})

	timeout := req.PerProbeTimeout
	results, err := pool.RunAllObserved(ctx, req.Targets, func(ctx context.Context, target probe.Target) probe.Outcome {
		return s.connector.TCPConnect(ctx, target.Host, target.Port, timeout)
	}, observer)

	for target, out := range results {
		summary.Outcomes[target.Port] = out
		if out.Success {
			summary.Open = append(summary.Open, target.Port)
		}
	}
	sort.Ints(summary.Open)
	summary.Scanned = len(summary.Outcomes)
	summary.Complete()

	for range summary.Open {
		s.registry.Counter(metrics.MetricOpenPorts, nil)
	}

	if err != nil {
		logger.Info("Port scan canceled", "scanned", summary.Scanned, "open", len(summary.Open))
		return summary, err
	}

	logger.Info("Port scan completed",
		"scanned", summary.Scanned,
		"open", len(summary.Open),
		"duration", summary.Duration)
	return summary, nil
}
