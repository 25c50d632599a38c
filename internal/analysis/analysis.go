// Package analysis defines the boundary to the content-analysis pipeline:
// the messages derived from hook events and the per-session consumer that
// receives them in batches. Consumers are best-effort collaborators; their
// failures are logged by callers and never propagated into orchestration.
package analysis

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one unit of work derived from a hook event, buffered and
// batched before being handed to a consumer.
type Message struct {
	SessionID      string          `json:"sessionId"`
	Kind           string          `json:"kind"`
	TranscriptPath string          `json:"transcriptPath,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Consumer receives batches for a single session. ProcessBatch is invoked
// on every flush; Finalize exactly once at session end-of-life.
type Consumer interface {
	ProcessBatch(ctx context.Context, messages []Message) error
	Finalize(ctx context.Context) error
}

// Factory builds the consumer for a newly observed session.
type Factory func(sessionID, transcriptPath string) Consumer

// NopConsumer discards everything. Used when no analyzer is configured.
type NopConsumer struct{}

func (NopConsumer) ProcessBatch(context.Context, []Message) error { return nil }
func (NopConsumer) Finalize(context.Context) error                { return nil }
