// Package cmd wires the scribe CLI: monitor lifecycle commands, registry
// inspection, and the hook forwarder registered with the coding assistant.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "scribe",
		Short: "Observe coding assistant sessions via hook events",
		Long: "scribe runs per-directory monitor daemons that collect hook events\n" +
			"from coding assistant sessions, batch them, and hand them to analysis\n" +
			"consumers. Hook invocations are routed to the monitor owning the most\n" +
			"specific matching directory scope.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug || os.Getenv("SCRIBE_DEBUG") == "1" {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.SetOutput(os.Stderr)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newMonitorCmd(),
		newDaemonCmd(),
		newHandleHookCmd(),
		newLsCmd(),
		newStatusCmd(),
		newStopCmd(),
		newCleanupCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
