package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kylemclaren/claude-tasker/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}
