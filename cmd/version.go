package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "overseer %s\n", buildVersion)
		if verbose {
			fmt.Fprintf(ui.Out, "  commit: %s\n", buildCommit)
			fmt.Fprintf(ui.Out, "  built:  %s\n", buildDate)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
