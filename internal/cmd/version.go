package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the scribe version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "scribe "+version.DisplayVersion())
		},
	}
}
