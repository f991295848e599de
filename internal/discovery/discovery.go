// Package discovery provides LAN host discovery for lanprobe. It sweeps the
// 254 host addresses of a /24 with ICMP echo and resolves names for the
// hosts that answered.
package discovery

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/targets"
	"github.com/anstrom/lanprobe/internal/workers"
)

const (
	// Default discovery configuration values.
	defaultConcurrency        = 64
	defaultTimeout            = 500 * time.Millisecond
	defaultResolveConcurrency = 4
)

// Engine handles network discovery operations.
type Engine struct {
	pinger      probe.Pinger
	resolver    probe.Resolver
	registry    metrics.MetricsRegistry
	logger      *logging.Logger
	concurrency int
	timeout     time.Duration
	rdnsTimeout time.Duration
}

// Config represents one discovery sweep.
type Config struct {
	// Base is the first three octets of the subnet, e.g. "192.168.1".
	Base string `json:"base"`
	// Timeout bounds each echo.
	Timeout time.Duration `json:"timeout"`
	// Concurrency bounds echoes in flight. Zero uses the engine setting.
	Concurrency int `json:"concurrency"`
	// ResolveConcurrency bounds reverse lookups in flight.
	ResolveConcurrency int `json:"resolve_concurrency"`
}

// Device is a host that answered the sweep.
type Device struct {
	Address  string        `json:"address"`
	Hostname string        `json:"hostname"`
	Resolved bool          `json:"resolved"`
	Latency  time.Duration `json:"-"`
	TTL      int           `json:"ttl,omitempty"`
}

// MarshalJSON renders the latency in milliseconds.
func (d Device) MarshalJSON() ([]byte, error) {
	type device Device
	return json.Marshal(struct {
		device
		LatencyMs float64 `json:"latency_ms"`
	}{device(d), float64(d.Latency) / float64(time.Millisecond)})
}

// Summary is the result of a discovery sweep. Devices are ordered by the
// last octet of their address.
type Summary struct {
	Base      string        `json:"base"`
	Scanned   int           `json:"scanned"`
	Devices   []Device      `json:"devices"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// NewEngine creates a new discovery engine.
func NewEngine(pinger probe.Pinger, resolver probe.Resolver) *Engine {
	if resolver == nil {
		resolver = probe.NewSystemResolver()
	}
	return &Engine{
		pinger:      pinger,
		resolver:    resolver,
		registry:    metrics.Default(),
		logger:      logging.Default().WithComponent("discovery"),
		concurrency: defaultConcurrency,
		timeout:     defaultTimeout,
		rdnsTimeout: probe.DefaultReverseDNSTimeout,
	}
}

// SetConcurrency sets the number of concurrent echoes.
func (e *Engine) SetConcurrency(concurrency int) {
	if concurrency > 0 {
		e.concurrency = concurrency
	}
}

// SetTimeout sets the default timeout for individual host echoes.
func (e *Engine) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

// SetReverseDNSTimeout sets the timeout for a single reverse lookup.
func (e *Engine) SetReverseDNSTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.rdnsTimeout = timeout
	}
}

// SetMetrics sets the metrics registry.
func (e *Engine) SetMetrics(registry metrics.MetricsRegistry) {
	if registry != nil {
		e.registry = registry
	}
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(logger *logging.Logger) {
	if logger != nil {
		e.logger = logger.WithComponent("discovery")
	}
}

// Discover sweeps .1 through .254 of config.Base. Reverse DNS runs only for
// hosts that answered, with its own smaller concurrency bound; a failed
// lookup keeps the device with Hostname "unknown" and Resolved false.
//
// On cancellation the devices found so far are returned with a CANCELED
// error.
func (e *Engine) Discover(ctx context.Context, config Config) (*Summary, error) {
	return e.DiscoverObserved(ctx, config, nil)
}

// DiscoverObserved is Discover with an observer for the echo phase.
func (e *Engine) DiscoverObserved(ctx context.Context, config Config, observer workers.Observer) (*Summary, error) {
	if e.pinger == nil {
		return nil, errors.NewProbeError(errors.CodeConfiguration, "discovery engine has no pinger")
	}

	hosts, err := targets.SubnetHosts(config.Base)
	if err != nil {
		return nil, err
	}
	base, _ := targets.NormalizeBase(config.Base)
	config = e.withDefaults(config)

	summary := &Summary{
		Base:      base,
		Devices:   make([]Device, 0),
		StartTime: time.Now(),
	}
	e.logger.InfoDiscovery("Starting discovery", base+".0/24",
		"hosts", len(hosts),
		"timeout", config.Timeout)

	echoes := workers.New(workers.Config{
		Size:    config.Concurrency,
		Kind:    metrics.KindICMP,
		Metrics: e.registry,
		Logger:  e.logger,
	})
	replies, sweepErr := echoes.RunAllObserved(ctx, hosts, probe.EchoFunc(e.pinger, config.Timeout), observer)
	summary.Scanned = len(replies)

	alive := make([]probe.Target, 0)
	for target, out := range replies {
		if !out.Success {
			continue
		}
		alive = append(alive, target)
		summary.Devices = append(summary.Devices, Device{
			Address:  target.Host,
			Hostname: probe.UnknownHostname,
			Latency:  out.Latency,
			TTL:      out.TTL,
		})
	}
	sortDevices(summary.Devices)

	if sweepErr != nil {
		return e.finish(summary, sweepErr)
	}

	names, resolveErr := e.resolve(ctx, alive, config.ResolveConcurrency)
	for i := range summary.Devices {
		if out, ok := names[probe.HostTarget(summary.Devices[i].Address)]; ok && out.Success {
			summary.Devices[i].Hostname = out.Detail
			summary.Devices[i].Resolved = true
		}
	}

	return e.finish(summary, resolveErr)
}

func (e *Engine) withDefaults(config Config) Config {
	if config.Timeout <= 0 {
		config.Timeout = e.timeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = e.concurrency
	}
	if config.ResolveConcurrency <= 0 {
		config.ResolveConcurrency = defaultResolveConcurrency
	}
	return config
}

// resolve runs reverse lookups for the responsive hosts. Successful outcomes
// carry the hostname in Detail.
func (e *Engine) resolve(ctx context.Context, alive []probe.Target, concurrency int) (map[probe.Target]probe.Outcome, error) {
	if len(alive) == 0 {
		return map[probe.Target]probe.Outcome{}, nil
	}

	lookups := workers.New(workers.Config{
		Size:    concurrency,
		Kind:    metrics.KindDNS,
		Metrics: e.registry,
		Logger:  e.logger,
	})
	return lookups.RunAll(ctx, alive, func(ctx context.Context, target probe.Target) probe.Outcome {
		start := time.Now()
		name, err := probe.ReverseLookup(ctx, e.resolver, target.Host, e.rdnsTimeout)
		if err != nil {
			return probe.Failed(target, err)
		}
		return probe.Succeeded(target, time.Since(start), name)
	})
}

func (e *Engine) finish(summary *Summary, err error) (*Summary, error) {
	summary.Duration = time.Since(summary.StartTime)
	for range summary.Devices {
		e.registry.Counter(metrics.MetricHostsDiscovered, nil)
	}

	network := summary.Base + ".0/24"
	if err != nil {
		e.logger.ErrorDiscovery("Discovery canceled", network, err,
			"scanned", summary.Scanned,
			"devices", len(summary.Devices))
		return summary, err
	}

	e.logger.InfoDiscovery("Discovery completed", network,
		"scanned", summary.Scanned,
		"devices", len(summary.Devices),
		"duration", summary.Duration)
	return summary, nil
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return targets.HostOctet(devices[i].Address) < targets.HostOctet(devices[j].Address)
	})
}
