// Package activitylog appends one JSON line per noteworthy monitor event
// to a diagnostic log file. It is separate from the structured process
// log: the activity log is a per-monitor audit trail meant for humans
// and scripts inspecting what a monitor observed.
package activitylog

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Logger writes JSONL entries. The zero-value-like Nop logger discards
// everything, so call sites never need nil checks.
type Logger struct {
	enabled bool
	actor   string

	mu   sync.Mutex
	file *os.File
}

// New opens (appending) the activity log at path. When enabled is false
// no file is created and every method is a no-op. Open failures degrade
// to a disabled logger.
func New(enabled bool, path, actor string) *Logger {
	l := &Logger{actor: actor}
	if !enabled {
		return l
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.enabled = true
	l.file = f
	return l
}

// Nop returns a disabled logger.
func Nop() *Logger {
	return &Logger{}
}

type entry struct {
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Event     string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	HookEvent string    `json:"hook_event,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Count     int64     `json:"count,omitempty"`
}

// HookEvent records one ingested hook event.
func (l *Logger) HookEvent(sessionID, hookEvent, toolName string) {
	l.write(entry{Event: "hook", SessionID: sessionID, HookEvent: hookEvent, ToolName: toolName})
}

// SessionLifecycle records a session transition.
func (l *Logger) SessionLifecycle(sessionID, from, to string) {
	l.write(entry{Event: "session_lifecycle", SessionID: sessionID, From: from, To: to})
}

// Dropped records discarded work, e.g. queue evictions or events with no
// transcript path.
func (l *Logger) Dropped(sessionID, reason string, count int64) {
	l.write(entry{Event: "dropped", SessionID: sessionID, Reason: reason, Count: count})
}

// MonitorState records monitor-level transitions such as startup and
// shutdown.
func (l *Logger) MonitorState(from, to string) {
	l.write(entry{Event: "monitor_state", From: from, To: to})
}

func (l *Logger) write(e entry) {
	if !l.enabled {
		return
	}
	e.Timestamp = time.Now()
	e.Actor = l.actor

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file.Write(data)
}

// Close releases the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.enabled = false
	}
}
