package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Tandem/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tandem %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
