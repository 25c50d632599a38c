package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/paths"
	"scribe/internal/registry"
)

func newLsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := registry.New(paths.Registry()).List()
			if !all {
				live := entries[:0]
				for _, e := range entries {
					if e.Alive {
						live = append(live, e)
					}
				}
				entries = live
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No monitors registered.")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), bold("Monitors:"))
			for _, e := range entries {
				printMonitorLine(cmd, e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include entries whose owner process is dead")

	return cmd
}

func printMonitorLine(cmd *cobra.Command, e registry.ListedEntry) {
	symbol := green("●")
	state := fmt.Sprintf("up %s", time.Since(e.StartedAt).Round(time.Second))
	if !e.Alive {
		symbol = red("✗")
		state = red("dead")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %s %s %s %s %s\n",
		symbol, e.ID, e.ScopeDir, faint(fmt.Sprintf("pid %d", e.OwnerPID)), faint(state))
}
