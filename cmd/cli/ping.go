package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
)

var (
	pingCount    int
	pingTimeout  time.Duration
	pingInterval time.Duration
)

// pingCmd represents the ping command.
var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Send ICMP echo requests to a host",
	Long: `Send a fixed number of ICMP echo requests to a host, one after another,
and report each reply as it arrives followed by a summary. The mean latency
covers successful attempts only.

Unprivileged ICMP sockets are used unless probing.privileged_icmp is set;
on Linux the user's group must be inside net.ipv4.ping_group_range.`,
	Example: `  lanprobe ping 192.168.1.1
  lanprobe ping router.lan --count 10 --interval 1s
  lanprobe ping 10.0.0.1 --timeout 500ms -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng := newEngines(cfg, nil, logging.Default())
		defer eng.close()

		opts := eng.pingOptions
		if cmd.Flags().Changed("count") {
			opts.Attempts = pingCount
		}
		if cmd.Flags().Changed("timeout") {
			opts.Timeout = pingTimeout
		}
		if cmd.Flags().Changed("interval") {
			opts.Interval = pingInterval
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runPing(ctx, out(cmd), eng.pinger, args[0], opts, outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)

	pingCmd.Flags().IntVarP(&pingCount, "count", "c", ping.DefaultAttempts, "number of echo requests")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", probe.DefaultEchoTimeout, "timeout per echo request")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 0, "pause between echo requests")
}

// runPing runs one ping and prints it. In table mode every attempt is
// printed as it completes. A canceled run still prints what it has.
func runPing(ctx context.Context, w io.Writer, pinger probe.Pinger, host string, opts ping.Options, format string) error {
	if opts.Attempts < 1 {
		return errors.ErrValidation("count must be at least 1")
	}

	var observer ping.Observer
	if format == formatTable {
		fmt.Fprintf(w, "PING %s: %d attempts, timeout %s\n", host, opts.Attempts, opts.Timeout)
		observer = func(seq int, out probe.Outcome) {
			fmt.Fprintln(w, attemptLine(seq, out))
		}
	}

	summary, err := ping.Run(ctx, pinger, host, opts, observer)
	if summary == nil {
		return err
	}

	if format == formatJSON {
		if jsonErr := writeJSON(w, newPingReport(summary)); jsonErr != nil {
			return jsonErr
		}
	} else {
		fmt.Fprintln(w, pingSummaryLine(summary))
	}
	return err
}
