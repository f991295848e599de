// Package ping runs sequential ICMP echo attempts against one host and
// summarizes them.
package ping

import (
	"context"
	"strings"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
)

const (
	// DefaultAttempts is the number of echo requests in one run.
	DefaultAttempts = 4

	StateOK      = "ok"
	StateTimeout = "timeout"
)

// Options controls a ping run. Zero values select defaults.
type Options struct {
	Attempts int
	Timeout  time.Duration
	Interval time.Duration

	Metrics metrics.MetricsRegistry
	Logger  *logging.Logger
}

// DefaultOptions returns four attempts at one second each, back to back.
func DefaultOptions() Options {
	return Options{
		Attempts: DefaultAttempts,
		Timeout:  probe.DefaultEchoTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = probe.DefaultEchoTimeout
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default()
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}

// Observer is called after each attempt with its 1-based index.
type Observer func(attempt int, out probe.Outcome)

// Summary is the result of a ping run.
type Summary struct {
	Host          string          `json:"host"`
	Attempts      []probe.Outcome `json:"attempts"`
	SuccessCount  int             `json:"success_count"`
	MeanLatencyMs *float64        `json:"mean_latency_ms"`
	StartTime     time.Time       `json:"start_time"`
	Duration      time.Duration   `json:"duration"`
}

// State is "ok" when at least one attempt succeeded and "timeout" otherwise.
func (s *Summary) State() string {
	if s.SuccessCount > 0 {
		return StateOK
	}
	return StateTimeout
}

// Sent returns the number of attempts that completed.
func (s *Summary) Sent() int {
	return len(s.Attempts)
}

// Loss returns the fraction of completed attempts that failed.
func (s *Summary) Loss() float64 {
	if len(s.Attempts) == 0 {
		return 0
	}
	return float64(len(s.Attempts)-s.SuccessCount) / float64(len(s.Attempts))
}

// Run sends opts.Attempts echo requests to host, one after another. The mean
// latency covers successful attempts only and stays nil when none succeeded.
//
// On cancellation no further attempts are made; the attempt that was
// interrupted is dropped and the partial summary is returned with a CANCELED
// error.
func Run(ctx context.Context, pinger probe.Pinger, host string, opts Options, observer Observer) (*Summary, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.ErrValidation("host is required")
	}
	opts = opts.withDefaults()
	logger := opts.Logger.WithComponent("ping").WithTarget(host)

	summary := &Summary{
		Host:      host,
		Attempts:  make([]probe.Outcome, 0, opts.Attempts),
		StartTime: time.Now(),
	}
	defer func() { summary.Duration = time.Since(summary.StartTime) }()

	for i := 1; i <= opts.Attempts; i++ {
		if err := ctx.Err(); err != nil {
			return canceled(summary, opts, logger, err)
		}

		start := time.Now()
		out := pinger.Echo(ctx, host, opts.Timeout)
		if err := ctx.Err(); err != nil && !out.Success {
			return canceled(summary, opts, logger, err)
		}
		metrics.RecordProbe(opts.Metrics, metrics.KindICMP, out.Status(), time.Since(start))

		summary.Attempts = append(summary.Attempts, out)
		if out.Success {
			summary.SuccessCount++
		}
		if observer != nil {
			observer(i, out)
		}

		if i < opts.Attempts && opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return canceled(summary, opts, logger, ctx.Err())
			case <-time.After(opts.Interval):
			}
		}
	}

	summary.finishMean()
	metrics.RecordBatch(opts.Metrics, metrics.KindICMP, "completed", time.Since(summary.StartTime))
	logger.Debug("Ping run completed",
		"attempts", summary.Sent(),
		"successes", summary.SuccessCount,
		"state", summary.State())

	return summary, nil
}

func canceled(summary *Summary, opts Options, logger *logging.Logger, err error) (*Summary, error) {
	summary.finishMean()
	metrics.RecordBatch(opts.Metrics, metrics.KindICMP, "canceled", time.Since(summary.StartTime))
	logger.Info("Ping run canceled", "attempts", summary.Sent())
	return summary, errors.ErrCanceled("ping", err)
}

// finishMean averages the whole-millisecond latencies of successful attempts.
func (s *Summary) finishMean() {
	var total float64
	for _, out := range s.Attempts {
		if ms, ok := out.LatencyMs(); ok && out.Success {
			total += float64(ms)
		}
	}
	if s.SuccessCount > 0 {
		mean := total / float64(s.SuccessCount)
		s.MeanLatencyMs = &mean
	}
}
