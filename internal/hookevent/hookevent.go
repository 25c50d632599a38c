// Package hookevent defines the hook event record exchanged between the
// one-shot forwarder and a monitor's ingestion socket, and its wire format:
// UTF-8 text, one JSON object per line, '\n'-terminated.
package hookevent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a hook firing. Unrecognized kinds parse as KindUnknown
// rather than failing, so new upstream hook types degrade gracefully.
type Kind string

const (
	KindSessionStart Kind = "SessionStart"
	KindSessionEnd   Kind = "SessionEnd"
	KindPostToolUse  Kind = "PostToolUse"
	KindStop         Kind = "Stop"
	KindSubagentStop Kind = "SubagentStop"
	KindUnknown      Kind = "Unknown"
)

// KnownKind maps a wire type string to a Kind, folding anything
// unrecognized into KindUnknown.
func KnownKind(s string) Kind {
	switch Kind(s) {
	case KindSessionStart, KindSessionEnd, KindPostToolUse, KindStop, KindSubagentStop:
		return Kind(s)
	default:
		return KindUnknown
	}
}

// Event is one observed hook firing. Immutable after creation.
type Event struct {
	Kind           Kind            `json:"type"`
	SessionID      string          `json:"sessionId"`
	TranscriptPath string          `json:"transcriptPath"`
	WorkingDir     string          `json:"cwd"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"data,omitempty"`
}

// wireEvent is the raw JSON shape. Kind arrives as a free-form string so
// unknown types can be folded instead of rejected.
type wireEvent struct {
	Type           string          `json:"type"`
	SessionID      string          `json:"sessionId"`
	TranscriptPath string          `json:"transcriptPath"`
	CWD            string          `json:"cwd"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Parse decodes a single event line. The line must be a JSON object with
// a non-empty sessionId. A zero timestamp is stamped with the current time.
func Parse(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, fmt.Errorf("empty event line")
	}
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if w.SessionID == "" {
		return Event{}, fmt.Errorf("event missing sessionId")
	}
	ev := Event{
		Kind:           KnownKind(w.Type),
		SessionID:      w.SessionID,
		TranscriptPath: w.TranscriptPath,
		WorkingDir:     w.CWD,
		Timestamp:      w.Timestamp,
		Payload:        w.Data,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}

// ToolName extracts the tool_name field from a hook payload, if present.
func ToolName(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var p struct {
		ToolName string `json:"tool_name"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	return p.ToolName
}

// Encode serializes the event as one newline-terminated JSON line.
func Encode(ev Event) ([]byte, error) {
	w := wireEvent{
		Type:           string(ev.Kind),
		SessionID:      ev.SessionID,
		TranscriptPath: ev.TranscriptPath,
		CWD:            ev.WorkingDir,
		Timestamp:      ev.Timestamp,
		Data:           ev.Payload,
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return append(data, '\n'), nil
}
