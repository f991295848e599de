package cli

import (
	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/targets"
)

// engines are the probe engines built from one configuration. They share a
// process-wide socket limiter.
type engines struct {
	limiter   *probe.Limiter
	resolver  probe.Resolver
	pinger    *probe.ICMPPinger
	scanner   *scanning.Scanner
	discovery *discovery.Engine

	pingOptions ping.Options
	scanOptions targets.RequestOptions
}

func newEngines(cfg *config.Config, registry metrics.MetricsRegistry, logger *logging.Logger) *engines {
	if registry == nil {
		registry = metrics.Default()
	}
	if logger == nil {
		logger = logging.Default()
	}

	probing := cfg.Probing
	limiter := probe.NewLimiter(probing.GlobalLimit)
	resolver := probe.NewResolver(cfg.DNS.Server, cfg.DNS.Timeout)

	pinger := probe.NewICMPPinger(limiter, probing.PrivilegedICMP)
	pinger.Resolver = resolver

	scanner := scanning.New(scanning.Config{
		Connector: probe.NewProber(limiter),
		Metrics:   registry,
		Logger:    logger,
	})

	disc := discovery.NewEngine(pinger, resolver)
	disc.SetConcurrency(probing.MaxConcurrency)
	disc.SetTimeout(probing.DiscoveryTimeout)
	disc.SetReverseDNSTimeout(probing.ReverseDNSTimeout)
	disc.SetMetrics(registry)
	disc.SetLogger(logger)

	return &engines{
		limiter:   limiter,
		resolver:  resolver,
		pinger:    pinger,
		scanner:   scanner,
		discovery: disc,
		pingOptions: ping.Options{
			Attempts: probing.PingAttempts,
			Timeout:  probing.PingTimeout,
			Interval: probing.PingInterval,
			Metrics:  registry,
			Logger:   logger,
		},
		scanOptions: targets.RequestOptions{
			PerProbeTimeout: probing.PortTimeout,
			MaxConcurrency:  probing.MaxConcurrency,
			MaxTargetCount:  probing.MaxPorts,
		},
	}
}

// discoveryConfig returns the sweep settings for base.
func discoveryConfig(cfg *config.Config, base string) discovery.Config {
	return discovery.Config{
		Base:               base,
		Timeout:            cfg.Probing.DiscoveryTimeout,
		Concurrency:        cfg.Probing.MaxConcurrency,
		ResolveConcurrency: cfg.Probing.ResolveConcurrency,
	}
}

func (e *engines) close() {
	_ = e.limiter.Close()
}
