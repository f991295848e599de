package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/probe"
)

// resolveCmd represents the resolve command.
var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Look up the addresses of a host name",
	Long: `Resolve a host name to its IPv4 and IPv6 addresses. A name without
records is reported as such and is not an error. Set dns.server to query
one DNS server directly instead of the system resolver.`,
	Example: `  lanprobe resolve nas.lan
  LANPROBE_DNS_SERVER=192.168.1.1:53 lanprobe resolve printer.lan`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolver := probe.NewResolver(cfg.DNS.Server, cfg.DNS.Timeout)

		ctx, cancel := signalContext(cmd)
		defer cancel()
		return runResolve(ctx, out(cmd), resolver, args[0], outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

type resolveReport struct {
	Name      string          `json:"name"`
	Addresses []addressReport `json:"addresses"`
}

type addressReport struct {
	Address string `json:"address"`
	Family  string `json:"family"`
}

func runResolve(ctx context.Context, w io.Writer, resolver probe.Resolver, name, format string) error {
	addrs, err := probe.ForwardDNS(ctx, resolver, name)
	if err != nil {
		return err
	}

	report := resolveReport{Name: name, Addresses: make([]addressReport, 0, len(addrs))}
	for _, a := range addrs {
		report.Addresses = append(report.Addresses, addressReport{Address: a.String(), Family: a.Family()})
	}

	if format == formatJSON {
		return writeJSON(w, report)
	}

	if len(addrs) == 0 {
		_, err := fmt.Fprintf(w, "%s: no records\n", name)
		return err
	}
	rows := make([][]string, 0, len(report.Addresses))
	for _, a := range report.Addresses {
		rows = append(rows, []string{a.Address, a.Family})
	}
	return renderTable(w, []string{"Address", "Family"}, rows)
}
