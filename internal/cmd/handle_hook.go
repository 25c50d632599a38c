package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"scribe/internal/hookevent"
	"scribe/internal/paths"
	"scribe/internal/registry"
)

// DialTimeout bounds the forwarder's connection attempt. Hook commands
// run inline with the assistant; they must never hang.
const DialTimeout = 1 * time.Second

func newHandleHookCmd() *cobra.Command {
	var eventName string

	cmd := &cobra.Command{
		Use:   "handle-hook",
		Short: "Forward a hook event to the owning monitor",
		Long: `Reads a hook JSON payload from stdin and forwards it to the monitor
whose scope contains the working directory. Best-effort by design: when
no monitor matches, the monitor is unreachable, or the payload is
unusable, the event is silently dropped and the command still exits 0
so the observed session is never disturbed.

Designed to be registered as the hook command for all hook events in
the assistant's settings. The event name is taken from the payload's
hook_event_name field; --event (or SCRIBE_HOOK_EVENT) overrides it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventName == "" {
				eventName = os.Getenv("SCRIBE_HOOK_EVENT")
			}
			forwardHook(cmd.InOrStdin(), eventName)
			// Hook protocol: always respond and always succeed.
			fmt.Fprintln(cmd.OutOrStdout(), "{}")
			return nil
		},
	}

	cmd.Flags().StringVar(&eventName, "event", "", "Hook event name (defaults to the payload's hook_event_name)")

	return cmd
}

// hookPayload is the envelope of an assistant hook invocation.
type hookPayload struct {
	HookEventName  string `json:"hook_event_name"`
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
}

// forwardHook does all the work; every failure is a logged no-op.
func forwardHook(stdin io.Reader, eventName string) {
	log := logrus.WithField("component", "forwarder")

	data, err := io.ReadAll(stdin)
	if err != nil {
		log.WithError(err).Debug("read stdin failed")
		return
	}
	var payload hookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Debug("unparsable hook payload")
		return
	}
	if eventName == "" {
		eventName = payload.HookEventName
	}
	if payload.SessionID == "" {
		log.Debug("hook payload has no session_id, dropping")
		return
	}
	cwd := payload.CWD
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	ev := hookevent.Event{
		Kind:           hookevent.KnownKind(eventName),
		SessionID:      payload.SessionID,
		TranscriptPath: payload.TranscriptPath,
		WorkingDir:     cwd,
		Timestamp:      time.Now(),
		Payload:        json.RawMessage(data),
	}
	line, err := hookevent.Encode(ev)
	if err != nil {
		log.WithError(err).Debug("encode event failed")
		return
	}

	reg := registry.New(paths.Registry())
	entry, ok := reg.FindMatching(cwd)
	if !ok {
		log.WithField("cwd", cwd).Debug("no monitor for scope, dropping event")
	} else {
		sendLine(log, entry.ListenAddress, line)
	}

	// Session starts are also multicast to the sentinel socket so a
	// host-wide observer can track new sessions across every scope.
	if ev.Kind == hookevent.KindSessionStart {
		sendLine(log, paths.SentinelSocket(), line)
	}
}

// sendLine delivers one encoded event line. Best-effort.
func sendLine(log *logrus.Entry, addr string, line []byte) {
	conn, err := net.DialTimeout("unix", addr, DialTimeout)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Debug("monitor unreachable")
		return
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(DialTimeout))
	if _, err := conn.Write(line); err != nil {
		log.WithError(err).WithField("addr", addr).Debug("event write failed")
	}
}
