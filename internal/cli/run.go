package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch the next ready task once and exit",
	Long: `Dispatch the highest-priority queued task, wait for the attempt to finish, and
exit. Nothing runs while another task is in progress. Interrupted tasks are not
reconciled here so a running daemon is never disturbed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		dispatched, err := eng.scheduler.RunOnce(context.Background())
		if err != nil {
			return err
		}
		if !dispatched {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to run.")
		}
		return nil
	},
}
