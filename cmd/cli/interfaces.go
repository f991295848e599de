package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/netinfo"
)

var interfacesWireless bool

// interfacesCmd represents the interfaces command.
var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"ifaces"},
	Short:   "Show local network interfaces",
	Long: `List the local network interfaces with MAC address, IPv4 address,
netmask, default gateway, link status and type. With --wireless the access
point of the active wireless connection is shown as well (requires nmcli).`,
	Example: `  lanprobe interfaces
  lanprobe interfaces --wireless
  lanprobe ifaces -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var wireless func(context.Context) (*netinfo.Wireless, error)
		if interfacesWireless {
			wireless = netinfo.ActiveWireless
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runInterfaces(ctx, out(cmd), netinfo.List, wireless, outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(interfacesCmd)

	interfacesCmd.Flags().BoolVar(&interfacesWireless, "wireless", false, "show the active wireless connection")
}

type interfacesReport struct {
	Interfaces []netinfo.Interface `json:"interfaces"`
	Wireless   *netinfo.Wireless   `json:"wireless,omitempty"`
}

func runInterfaces(ctx context.Context, w io.Writer, list func() ([]netinfo.Interface, error),
	wireless func(context.Context) (*netinfo.Wireless, error), format string) error {
	ifaces, err := list()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	report := interfacesReport{Interfaces: ifaces}
	if wireless != nil {
		wl, err := wireless(ctx)
		if err != nil {
			// Interfaces are still worth showing without nmcli.
			logging.Warn("Wireless details unavailable", "error", err)
		}
		report.Wireless = wl
	}

	if format == formatJSON {
		return writeJSON(w, report)
	}

	if err := renderInterfaces(w, report.Interfaces); err != nil {
		return err
	}
	if wireless != nil {
		return renderWireless(w, report.Wireless)
	}
	return nil
}
