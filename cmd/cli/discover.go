package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/workers"
)

var (
	discoverTimeout time.Duration
)

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover [subnet]",
	Short: "Find live hosts on a /24",
	Long: `Send one ICMP echo to each of the 254 host addresses of a /24 and list
the hosts that answered, ordered by address, with their reverse DNS names.

The subnet may be given as 192.168.1, 192.168.1.0 or 192.168.1.0/24. When it
is omitted the /24 of the first private IPv4 address of this machine is used.`,
	Example: `  lanprobe discover
  lanprobe discover 192.168.1.0/24
  lanprobe discover 10.0.5 --timeout 1s -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		base := ""
		if len(args) > 0 {
			base = args[0]
		}
		base, err = resolveBase(base, netinfo.LocalBase)
		if err != nil {
			return err
		}

		eng := newEngines(cfg, nil, logging.Default())
		defer eng.close()

		dc := discoveryConfig(cfg, base)
		if cmd.Flags().Changed("timeout") {
			dc.Timeout = discoverTimeout
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runDiscover(ctx, out(cmd), eng.discovery, dc, outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 500*time.Millisecond, "echo timeout per host")
}

// resolveBase returns base, or the local /24 when base is empty.
func resolveBase(base string, local func() (string, error)) (string, error) {
	if base != "" {
		return base, nil
	}
	detected, err := local()
	if err != nil {
		return "", errors.WrapProbeError(errors.CodeConfiguration,
			"no private IPv4 address found; pass the subnet explicitly", err)
	}
	return detected, nil
}

// observedDiscoverer is satisfied by *discovery.Engine.
type observedDiscoverer interface {
	DiscoverObserved(ctx context.Context, config discovery.Config, observer workers.Observer) (*discovery.Summary, error)
}

func runDiscover(ctx context.Context, w io.Writer, engine observedDiscoverer, config discovery.Config, format string) error {
	var observer workers.Observer
	if format == formatTable && verbose {
		observer = func(out probe.Outcome) {
			if out.Success {
				fmt.Fprintf(w, "alive: %s\n", out.Target.Host)
			}
		}
	}

	summary, err := engine.DiscoverObserved(ctx, config, observer)
	if summary == nil {
		return err
	}

	var renderErr error
	if format == formatJSON {
		renderErr = writeJSON(w, summary)
	} else {
		renderErr = renderDevices(w, summary)
	}
	if err != nil {
		return err
	}
	return renderErr
}
