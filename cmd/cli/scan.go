package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/probe"
	"github.com/anstrom/lanprobe/internal/profiles"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/targets"
	"github.com/anstrom/lanprobe/internal/workers"
)

var (
	scanPorts       string
	scanProfile     string
	scanTimeout     time.Duration
	scanConcurrency int
	scanShowAll     bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "Scan TCP ports on a host",
	Long: `Attempt a TCP handshake with every requested port of one host and
report the open ones in ascending order. Ports are given as a comma
separated list of numbers and ranges; malformed entries are skipped.
Instead of a list a named port profile may be given (see "lanprobe profiles");
with neither the "quick" profile is scanned.`,
	Example: `  lanprobe scan 192.168.1.10
  lanprobe scan nas.lan --ports 22,80,443,8000-8010
  lanprobe scan 10.0.0.5 --ports 1-100 --all --timeout 300ms
  lanprobe scan printer.lan --profile printers`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng := newEngines(cfg, nil, logging.Default())
		defer eng.close()

		opts := eng.scanOptions
		if cmd.Flags().Changed("timeout") {
			opts.PerProbeTimeout = scanTimeout
		}
		if cmd.Flags().Changed("concurrency") {
			opts.MaxConcurrency = scanConcurrency
		}

		manager, err := profiles.NewManager(cfg.Profiles)
		if err != nil {
			return err
		}
		portSpec, err := manager.ResolvePorts(scanPorts, scanProfile)
		if err != nil {
			return err
		}

		req, err := targets.NewScanRequest(args[0], portSpec, opts)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runScan(ctx, out(cmd), eng.scanner, req, scanShowAll, outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVarP(&scanPorts, "ports", "p", "", "ports to scan, e.g. 22,80,8000-8010")
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "named port profile to scan instead of --ports")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", probe.DefaultPortTimeout, "connect timeout per port")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", targets.DefaultMaxConcurrency, "ports probed at once")
	scanCmd.Flags().BoolVar(&scanShowAll, "all", false, "list closed and filtered ports too")
}

// observedScanner is satisfied by *scanning.Scanner.
type observedScanner interface {
	ScanObserved(ctx context.Context, req *targets.ScanRequest, observer workers.Observer) (*scanning.Summary, error)
}

func runScan(ctx context.Context, w io.Writer, scanner observedScanner, req *targets.ScanRequest, all bool, format string) error {
	var observer workers.Observer
	if format == formatTable && verbose {
		observer = func(out probe.Outcome) {
			if out.Success {
				fmt.Fprintf(w, "open: %d\n", out.Target.Port)
			}
		}
	}

	summary, err := scanner.ScanObserved(ctx, req, observer)
	if summary == nil {
		return err
	}

	var renderErr error
	if format == formatJSON {
		renderErr = writeJSON(w, newScanReport(summary))
	} else {
		renderErr = renderScan(w, summary, all)
	}
	if err != nil {
		return err
	}
	return renderErr
}
