package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/lanprobe/internal/profiles"
)

// profilesCmd represents the profiles command.
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List port profiles",
	Long: `List the named port sets usable with "scan --profile". Custom profiles
are defined under "profiles" in the configuration file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager, err := profiles.NewManager(cfg.Profiles)
		if err != nil {
			return err
		}
		return runProfiles(out(cmd), manager, outputFormat)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func runProfiles(w io.Writer, manager *profiles.Manager, format string) error {
	all := manager.GetAll()
	if format == formatJSON {
		return writeJSON(w, all)
	}

	rows := make([][]string, 0, len(all))
	for _, p := range all {
		source := "custom"
		if p.BuiltIn {
			source = "built-in"
		}
		rows = append(rows, []string{p.ID, p.Name, p.Ports, source})
	}
	return renderTable(w, []string{"ID", "Name", "Ports", "Source"}, rows)
}
