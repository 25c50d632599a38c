package store

import (
	"context"

	"scribe/internal/analysis"
)

// Consumer records each batch for one session into the store. It is the
// default consumer when no analyzer command is configured.
type Consumer struct {
	store          *Store
	sessionID      string
	transcriptPath string
}

var _ analysis.Consumer = (*Consumer)(nil)

// NewConsumer returns a recording consumer bound to one session.
func NewConsumer(s *Store, sessionID, transcriptPath string) *Consumer {
	return &Consumer{store: s, sessionID: sessionID, transcriptPath: transcriptPath}
}

func (c *Consumer) ProcessBatch(_ context.Context, msgs []analysis.Message) error {
	records := make([]HookRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, HookRecord{
			Kind:      m.Kind,
			ToolName:  m.ToolName,
			Timestamp: m.Timestamp,
			Payload:   string(m.Payload),
		})
	}
	return c.store.RecordBatch(c.sessionID, c.transcriptPath, records)
}

func (c *Consumer) Finalize(context.Context) error {
	return c.store.FinalizeSession(c.sessionID)
}
