package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scribe/internal/monitor"
	"scribe/internal/paths"
	"scribe/internal/registry"
)

func newMonitorCmd() *cobra.Command {
	var outputDir string
	var foreground bool

	cmd := &cobra.Command{
		Use:   "monitor [scope-dir]",
		Short: "Start a monitor for a directory scope",
		Long: `Start a monitor daemon owning the given directory scope (default:
the current directory). Hook events fired from anywhere under the scope
are routed to this monitor unless a more specific one exists.

By default the monitor forks into the background; use --foreground to
run it in the current terminal.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "."
			if len(args) == 1 {
				scope = args[0]
			}
			scope, err := filepath.Abs(scope)
			if err != nil {
				return err
			}
			if info, err := os.Stat(scope); err != nil || !info.IsDir() {
				return fmt.Errorf("scope %s is not a directory", scope)
			}
			if outputDir == "" {
				outputDir = filepath.Join(scope, ".scribe")
			}

			if existing, ok := registry.New(paths.Registry()).FindMatching(scope); ok && existing.ScopeDir == scope {
				return fmt.Errorf("monitor %s already owns %s", existing.ID, scope)
			}

			if foreground {
				return runDaemon(scope, outputDir)
			}

			entry, err := monitor.ForkMonitor(scope, outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Monitor %s watching %s\n", entry.ID, entry.ScopeDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory (default: <scope>/.scribe)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground instead of daemonizing")

	return cmd
}
