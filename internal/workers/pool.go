// Package workers provides the bounded fan-out used by every lanprobe
// operation. A Pool runs one probe per target with a fixed number in flight,
// joins on all of them, and integrates with the structured logging and
// metrics systems.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
)

// DefaultSize is the default number of probes in flight per batch.
const DefaultSize = 64

// Observer receives each outcome as soon as its probe completes. Calls are
// serialized, so observers need no locking of their own.
type Observer func(probe.Outcome)

// Config holds configuration for the fan-out pool.
type Config struct {
	// Size is the maximum number of probes in flight in one batch.
	Size int
	// Kind labels metrics and logs (tcp, icmp, dns).
	Kind string
	// Metrics receives probe and batch metrics. Nil uses metrics.Default().
	Metrics metrics.MetricsRegistry
	// Logger is used for batch logging. Nil uses the default logger.
	Logger *logging.Logger
}

// DefaultConfig returns a default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size: DefaultSize,
		Kind: "probe",
	}
}

// Pool fans probes out over a set of targets. A Pool holds no per-batch
// state, so one Pool may run several batches concurrently; each batch gets
// its own concurrency bound.
type Pool struct {
	config   Config
	registry metrics.MetricsRegistry
	logger   *logging.Logger
	inFlight atomic.Int64
}

// New creates a new pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = DefaultSize
	}
	if config.Kind == "" {
		config.Kind = "probe"
	}

	registry := config.Metrics
	if registry == nil {
		registry = metrics.Default()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Pool{
		config:   config,
		registry: registry,
		logger:   logger.WithComponent("workers").WithFields("kind", config.Kind),
	}
}

// Size returns the per-batch concurrency bound.
func (p *Pool) Size() int {
	return p.config.Size
}

// InFlight returns the number of probes currently running across all
// batches of this pool.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// RunAll runs fn once per distinct target and returns when every dispatched
// probe has produced an outcome. Probe failures never abort the batch.
//
// If ctx is canceled, dispatch stops, in-flight probes are awaited, and the
// partial result map is returned together with a CANCELED error.
func (p *Pool) RunAll(ctx context.Context, targets []probe.Target, fn probe.Func) (map[probe.Target]probe.Outcome, error) {
	return p.RunAllObserved(ctx, targets, fn, nil)
}

// RunAllObserved is RunAll with a progress observer.
func (p *Pool) RunAllObserved(ctx context.Context, targets []probe.Target, fn probe.Func,
	observer Observer) (map[probe.Target]probe.Outcome, error) {
	unique := Dedupe(targets)
	results := make(map[probe.Target]probe.Outcome, len(unique))
	if len(unique) == 0 {
		return results, nil
	}

	start := time.Now()
	p.logger.Debug("Fan-out started", "targets", len(unique), "size", p.config.Size)

	var (
		mu         sync.Mutex
		observerMu sync.Mutex
		wg         sync.WaitGroup
		sem        = semaphore.NewWeighted(int64(p.config.Size))
		dispatched int
	)

	for _, target := range unique {
		// Acquire may succeed on a done context, so check first.
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++

		wg.Add(1)
		go func(target probe.Target) {
			defer wg.Done()
			defer sem.Release(1)

			out := p.runOne(ctx, target, fn)

			mu.Lock()
			results[target] = out
			mu.Unlock()

			if observer != nil {
				observerMu.Lock()
				observer(out)
				observerMu.Unlock()
			}
		}(target)
	}

	wg.Wait()
	duration := time.Since(start)

	if err := ctx.Err(); err != nil {
		metrics.RecordBatch(p.registry, p.config.Kind, "canceled", duration)
		p.logger.Info("Fan-out canceled",
			"targets", len(unique),
			"dispatched", dispatched,
			"completed", len(results),
			"duration", duration)
		return results, errors.ErrCanceled("fan-out", err)
	}

	metrics.RecordBatch(p.registry, p.config.Kind, "completed", duration)
	p.logger.Debug("Fan-out completed",
		"targets", len(unique),
		"succeeded", countSuccesses(results),
		"duration", duration)

	return results, nil
}

// runOne executes a single probe, converting a panic into an UNKNOWN outcome.
func (p *Pool) runOne(ctx context.Context, target probe.Target, fn probe.Func) (out probe.Outcome) {
	p.gaugeInFlight(p.inFlight.Add(1))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out = probe.FailedWithKind(target, errors.CodeUnknown, fmt.Sprintf("probe panicked: %v", r))
			p.logger.ErrorProbe("Probe panicked", target.String(), out.Err)
		}
		out.Target = target

		p.gaugeInFlight(p.inFlight.Add(-1))
		metrics.RecordProbe(p.registry, p.config.Kind, out.Status(), time.Since(start))
	}()

	return fn(ctx, target)
}

func (p *Pool) gaugeInFlight(n int64) {
	p.registry.Gauge(metrics.MetricProbesInFlight, float64(n), metrics.Labels{
		metrics.LabelKind: p.config.Kind,
	})
}

// Dedupe returns targets with duplicates removed, keeping first occurrences
// in order.
func Dedupe(targets []probe.Target) []probe.Target {
	seen := make(map[probe.Target]struct{}, len(targets))
	unique := make([]probe.Target, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

func countSuccesses(results map[probe.Target]probe.Outcome) int {
	n := 0
	for _, out := range results {
		if out.Success {
			n++
		}
	}
	return n
}
