package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/discovery"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/netinfo"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/scanning"
	"github.com/anstrom/lanprobe/internal/scheduler"
)

var (
	watchSchedule string
	watchPorts    string
	watchDiscover bool
	watchBase     string
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [host]",
	Short: "Repeat probes on a cron schedule",
	Long: `Run probes on a schedule until interrupted and print one line per run.
With a host a ping job is added, and with --ports a port scan of the same
host as well. --discover adds a discovery sweep of --base, or of the local
/24 when no base is given. A run that is still going when the next tick
fires causes that tick to be skipped.

Schedules use standard five-field cron expressions or descriptors such as
@hourly and @every 30s.`,
	Example: `  lanprobe watch 192.168.1.1 --schedule "@every 30s"
  lanprobe watch nas.lan --ports 22,445 --schedule "*/5 * * * *"
  lanprobe watch --discover --schedule @hourly`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := ""
		if len(args) > 0 {
			host = args[0]
		}
		if host == "" && !watchDiscover {
			return errors.ErrValidation("a host or --discover is required")
		}
		if host == "" && watchPorts != "" {
			return errors.ErrValidation("--ports needs a host")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng := newEngines(cfg, nil, logging.Default())
		defer eng.close()

		sched := scheduler.NewScheduler(scheduler.Deps{
			Pinger:      eng.pinger,
			Scanner:     eng.scanner,
			Discovery:   eng.discovery,
			PingOptions: eng.pingOptions,
			ScanOptions: eng.scanOptions,
			Logger:      logging.Default(),
		})

		plan := watchPlan{Host: host, Ports: watchPorts, Schedule: watchSchedule}
		if watchDiscover {
			base, err := resolveBase(watchBase, netinfo.LocalBase)
			if err != nil {
				return err
			}
			plan.Base = base
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runWatch(ctx, out(cmd), sched, plan)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@every 1m", "cron expression or descriptor")
	watchCmd.Flags().StringVarP(&watchPorts, "ports", "p", "", "also scan these ports on the host")
	watchCmd.Flags().BoolVar(&watchDiscover, "discover", false, "add a discovery sweep")
	watchCmd.Flags().StringVar(&watchBase, "base", "", "subnet for --discover (default: local /24)")
}

// watchPlan lists the jobs a watch registers. Empty fields add no job.
type watchPlan struct {
	Host     string
	Ports    string
	Base     string
	Schedule string
}

func runWatch(ctx context.Context, w io.Writer, sched *scheduler.Scheduler, plan watchPlan) error {
	var mu sync.Mutex
	sched.OnRun(func(job scheduler.ScheduledJob) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, watchLine(job))
	})

	if plan.Host != "" {
		if _, err := sched.AddPingJob("ping "+plan.Host, plan.Schedule, scheduler.PingJobConfig{Host: plan.Host}); err != nil {
			return err
		}
		if plan.Ports != "" {
			cfg := scheduler.ScanJobConfig{Host: plan.Host, Ports: plan.Ports}
			if _, err := sched.AddScanJob("scan "+plan.Host, plan.Schedule, cfg); err != nil {
				return err
			}
		}
	}
	if plan.Base != "" {
		cfg := scheduler.DiscoveryJobConfig{Base: plan.Base}
		if _, err := sched.AddDiscoveryJob("discover "+plan.Base, plan.Schedule, cfg); err != nil {
			return err
		}
	}

	if err := sched.Start(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Watching %d job(s) on %q, press Ctrl-C to stop\n", len(sched.GetJobs()), plan.Schedule)

	<-ctx.Done()
	sched.Stop()
	return nil
}

// watchLine renders the last run of job as a single line.
func watchLine(job scheduler.ScheduledJob) string {
	run := job.LastRun
	if run == nil {
		return fmt.Sprintf("%s: no run", job.Name)
	}
	stamp := run.StartedAt.Format("15:04:05")
	if run.Error != "" {
		return fmt.Sprintf("%s %s: error: %s", stamp, job.Name, run.Error)
	}

	switch r := run.Result.(type) {
	case *ping.Summary:
		return fmt.Sprintf("%s %s: %s", stamp, job.Name, pingSummaryLine(r))
	case *scanning.Summary:
		return fmt.Sprintf("%s %s: %d/%d open %v", stamp, job.Name, len(r.Open), r.Scanned, r.Open)
	case *discovery.Summary:
		return fmt.Sprintf("%s %s: %d device(s) of %d", stamp, job.Name, len(r.Devices), r.Scanned)
	default:
		return fmt.Sprintf("%s %s: done in %s", stamp, job.Name, run.Duration)
	}
}
