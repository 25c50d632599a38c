package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/protocol"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [monitor-id]",
		Short: "Stop a monitor",
		Long: `Ask a monitor to shut down. The monitor finalizes every open session
before exiting. Without an argument, the monitor owning the current
directory is stopped.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := resolveMonitor(args)
			if err != nil {
				return err
			}

			resp, err := controlRequest(entry.ID, &protocol.Request{Type: protocol.TypeStop})
			if err != nil {
				return monitorConnError(entry.ID, err)
			}
			if !resp.OK {
				return fmt.Errorf("stop failed: %s", resp.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Monitor %s stopping\n", entry.ID)
			return nil
		},
	}
}
