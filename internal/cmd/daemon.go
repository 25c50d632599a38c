package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/monitor"
)

func newDaemonCmd() *cobra.Command {
	var scope string
	var outputDir string

	cmd := &cobra.Command{
		Use:    "_daemon --scope=<dir> --output=<dir>",
		Short:  "Run a monitor in this process (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}
			if outputDir == "" {
				return fmt.Errorf("--output is required")
			}
			return runDaemon(scope, outputDir)
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Directory scope to own")
	cmd.Flags().StringVar(&outputDir, "output", "", "Output directory")

	return cmd
}

// runDaemon builds and runs a monitor in the current process, blocking
// until shutdown.
func runDaemon(scope, outputDir string) error {
	m, err := monitor.New(monitor.Options{ScopeDir: scope, OutputDir: outputDir})
	if err != nil {
		return err
	}
	return m.Run(context.Background())
}
