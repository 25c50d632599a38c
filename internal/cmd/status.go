package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/paths"
	"scribe/internal/protocol"
	"scribe/internal/registry"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [monitor-id]",
		Short: "Show a monitor's session stats",
		Long: `Query a monitor over its control socket and print monitor info and
per-session stats as JSON. Without an argument, the monitor owning the
current directory is queried.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := resolveMonitor(args)
			if err != nil {
				return err
			}

			resp, err := controlRequest(entry.ID, &protocol.Request{Type: protocol.TypeStatus})
			if err != nil {
				return monitorConnError(entry.ID, err)
			}
			if !resp.OK {
				return fmt.Errorf("status failed: %s", resp.Error)
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

// resolveMonitor picks the target monitor: by ID when given, otherwise
// the one owning the current directory.
func resolveMonitor(args []string) (registry.Entry, error) {
	reg := registry.New(paths.Registry())
	if len(args) == 1 {
		entry, ok := reg.Lookup(args[0])
		if !ok {
			return registry.Entry{}, monitorConnError(args[0], fmt.Errorf("not registered"))
		}
		return entry, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return registry.Entry{}, err
	}
	entry, ok := reg.FindMatching(cwd)
	if !ok {
		return registry.Entry{}, fmt.Errorf("no monitor owns %s\n\nStart one with: scribe monitor", cwd)
	}
	return entry, nil
}

// controlRequest performs one request/response exchange with a monitor's
// control socket.
func controlRequest(monitorID string, req *protocol.Request) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", paths.ControlSocket(monitorID), 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := protocol.SendRequest(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// monitorConnError wraps a failed monitor connection with the list of
// live monitors.
func monitorConnError(id string, err error) error {
	entries := registry.New(paths.Registry()).List()
	var live []string
	for _, e := range entries {
		if e.Alive {
			live = append(live, e.ID)
		}
	}
	if len(live) == 0 {
		return fmt.Errorf("cannot reach monitor %q: %v (no running monitors)\n\nStart one with: scribe monitor", id, err)
	}
	return fmt.Errorf("cannot reach monitor %q: %v\n\nRunning monitors: %s", id, err, strings.Join(live, ", "))
}
