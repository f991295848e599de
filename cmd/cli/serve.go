package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/api"
	"github.com/anstrom/lanprobe/internal/api/handlers"
	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/daemon"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/scheduler"
)

const systemMetricsInterval = 15 * time.Second

var (
	serveHost string
	servePort int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server and scheduled jobs",
	Long: `Start the lanprobe HTTP API. Ping, scan, discovery and name resolution
are exposed as JSON endpoints under /api/v1, ping attempts can be streamed
over a WebSocket, and Prometheus metrics are served on /metrics.

Jobs listed under "jobs" in the configuration run on their cron schedules
and can be inspected under /api/v1/jobs. The process reacts to SIGHUP by
reloading the log level, profiles and jobs, to SIGUSR1 by logging its
status, and to SIGUSR2 by toggling debug logging.`,
	Example: `  lanprobe serve
  lanprobe serve --host 0.0.0.0 --port 9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reload := func() (*config.Config, error) { return serveConfig(cmd) }
		cfg, err := reload()
		if err != nil {
			return err
		}

		logger := logging.Default()
		registry := metrics.NewPrometheusMetrics()
		registry.SetEnabled(cfg.Metrics.Enabled)
		metrics.SetDefault(registry)

		eng := newEngines(cfg, registry, logger)
		defer eng.close()

		manager, err := profiles.NewManager(cfg.Profiles)
		if err != nil {
			return err
		}

		sched := scheduler.NewScheduler(scheduler.Deps{
			Pinger:      eng.pinger,
			Scanner:     eng.scanner,
			Discovery:   eng.discovery,
			PingOptions: eng.pingOptions,
			ScanOptions: eng.scanOptions,
			Logger:      logger,
		})

		server, err := api.New(cfg, api.Deps{
			Pinger:         eng.pinger,
			Scanner:        eng.scanner,
			Discovery:      eng.discovery,
			Resolver:       eng.resolver,
			Profiles:       manager,
			Scheduler:      sched,
			Metrics:        registry,
			MetricsHandler: registry.Handler(),
			Logger:         logger,
			Build: handlers.BuildInfo{
				Version:   version,
				Commit:    commit,
				BuildTime: buildTime,
			},
		})
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, daemon.Deps{
			Server:    server,
			Scheduler: sched,
			Profiles:  manager,
			Metrics:   registry,
			Logger:    logger,
			Limiter:   eng.limiter,
			Reload:    reload,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		if cfg.Metrics.Enabled {
			go registry.StartPeriodicUpdates(ctx, systemMetricsInterval)
		}

		logger.Info("Serving lanprobe API", "address", server.GetAddress(), "version", version)
		return d.Run(ctx)
	},
}

// serveConfig loads the configuration with the listener flags applied. It
// runs again on every reload.
func serveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.API.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port = servePort
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides api.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides api.port)")
}
