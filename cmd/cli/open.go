package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/netinfo"
)

var openSpeedTest bool

// openCmd represents the open command.
var openCmd = &cobra.Command{
	Use:   "open [url]",
	Short: "Open a URL in the default browser",
	Long: `Hand an http or https URL to the platform's opener. With --speedtest the
speed test page from launcher.speedtest_url is opened.`,
	Example: `  lanprobe open --speedtest
  lanprobe open http://192.168.1.1`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target, err := openTarget(args, openSpeedTest, cfg.Launcher.SpeedTestURL)
		if err != nil {
			return err
		}
		return runOpen(cmd.Context(), out(cmd), netinfo.OpenURL, target)
	},
}

func init() {
	rootCmd.AddCommand(openCmd)

	openCmd.Flags().BoolVar(&openSpeedTest, "speedtest", false, "open the configured speed test page")
}

func openTarget(args []string, speedTest bool, speedTestURL string) (string, error) {
	switch {
	case len(args) == 1 && speedTest:
		return "", errors.ErrValidation("give either a URL or --speedtest, not both")
	case len(args) == 1:
		return args[0], nil
	case speedTest:
		return speedTestURL, nil
	default:
		return "", errors.ErrValidation("a URL or --speedtest is required")
	}
}

func runOpen(ctx context.Context, w io.Writer, opener func(context.Context, string) error, target string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opener(ctx, target); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Opened %s\n", target)
	return err
}
