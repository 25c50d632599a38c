package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/paths"
	"scribe/internal/registry"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove registry entries for dead monitors",
		Long: `Scan the monitor registry and drop every entry whose owner process no
longer exists. Stale entries are also pruned opportunistically whenever
a monitor registers, so this is rarely needed by hand.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := registry.New(paths.Registry()).CleanupStale()
			if err != nil {
				return err
			}
			switch removed {
			case 0:
				fmt.Fprintln(cmd.OutOrStdout(), "Registry is clean.")
			case 1:
				fmt.Fprintln(cmd.OutOrStdout(), "Removed 1 stale entry.")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale entries.\n", removed)
			}
			return nil
		},
	}
}
