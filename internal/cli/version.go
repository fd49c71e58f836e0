package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agency-sales-monitor/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print agencymon build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "agencymon %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
	},
}
