package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"scribe/internal/analysis"
	"scribe/internal/batcher"
	"scribe/internal/hookevent"
)

// recordingConsumer counts batches and finalize calls per session.
type recordingConsumer struct {
	mu        sync.Mutex
	sessionID string
	messages  []analysis.Message
	finalized int
	batchErr  error
	finalErr  error
}

func (c *recordingConsumer) ProcessBatch(_ context.Context, msgs []analysis.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	return c.batchErr
}

func (c *recordingConsumer) Finalize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized++
	return c.finalErr
}

func (c *recordingConsumer) finalizeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

func (c *recordingConsumer) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// testHarness wires an orchestrator whose factory hands out recording
// consumers, one per session.
type testHarness struct {
	orch *Orchestrator

	mu        sync.Mutex
	consumers map[string]*recordingConsumer
}

func newHarness(cfg batcher.Config) *testHarness {
	h := &testHarness{consumers: make(map[string]*recordingConsumer)}
	h.orch = New(cfg, func(sessionID, transcriptPath string) analysis.Consumer {
		h.mu.Lock()
		defer h.mu.Unlock()
		c := &recordingConsumer{sessionID: sessionID}
		h.consumers[sessionID] = c
		return c
	})
	return h
}

func (h *testHarness) consumer(sessionID string) *recordingConsumer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consumers[sessionID]
}

func slowConfig() batcher.Config {
	// Large thresholds so flushes only happen when the test forces them.
	return batcher.Config{BatchSize: 100, MaxQueueSize: 1000, FlushInterval: time.Hour}
}

func ev(kind hookevent.Kind, sessionID, transcript string) hookevent.Event {
	return hookevent.Event{
		Kind:           kind,
		SessionID:      sessionID,
		TranscriptPath: transcript,
		WorkingDir:     "/projects/demo",
		Timestamp:      time.Now(),
	}
}

func TestSessionCreatedLazily(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))

	ids := h.orch.ActiveSessionIDs()
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("active sessions = %v, want [s1]", ids)
	}
	if h.consumer("s1") == nil {
		t.Fatal("factory was not invoked for new session")
	}
}

func TestMissingTranscriptDropsEvent(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", ""))

	if ids := h.orch.ActiveSessionIDs(); len(ids) != 0 {
		t.Fatalf("active sessions = %v, want none", ids)
	}
	st := h.orch.Stats()
	if st.MissingTranscript != 1 {
		t.Errorf("missing transcript drops = %d, want 1", st.MissingTranscript)
	}
}

func TestExistingSessionAcceptsEventsWithoutTranscript(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindSessionStart, "s1", "/tmp/t1.jsonl"))
	// Later events may omit the transcript; the session already exists.
	h.orch.HandleEvent(ev(hookevent.KindStop, "s1", ""))

	st := h.orch.Stats()
	if st.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", st.MessageCount)
	}
}

func TestGhostSessionGuard(t *testing.T) {
	h := newHarness(slowConfig())

	// SessionEnd for a never-seen session: no session, no consumer call.
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "ghost", "/tmp/t.jsonl"))

	if ids := h.orch.ActiveSessionIDs(); len(ids) != 0 {
		t.Fatalf("active sessions = %v, want none", ids)
	}
	if h.consumer("ghost") != nil {
		t.Fatal("consumer created for ghost session")
	}
	st := h.orch.Stats()
	if st.GhostEndsIgnored != 1 {
		t.Errorf("ghost ends ignored = %d, want 1", st.GhostEndsIgnored)
	}
}

func TestSessionEndFinalizesAndDrains(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))

	c := h.consumer("s1")
	if got := c.messageCount(); got != 2 {
		t.Errorf("consumer received %d messages, want 2 (batcher drained)", got)
	}
	if got := c.finalizeCount(); got != 1 {
		t.Errorf("finalize called %d times, want 1", got)
	}
	if ids := h.orch.ActiveSessionIDs(); len(ids) != 0 {
		t.Errorf("active sessions = %v, want none", ids)
	}
}

func TestDuplicateSessionEndIsNoop(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))

	if got := h.consumer("s1").finalizeCount(); got != 1 {
		t.Errorf("finalize called %d times after duplicate end, want 1", got)
	}
}

func TestEventsAfterFinalizeDiscarded(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))
	before := h.consumer("s1").messageCount()

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.Shutdown(context.Background())

	if got := h.consumer("s1").messageCount(); got != before {
		t.Errorf("finalized session received %d new messages", got-before)
	}
	if got := h.consumer("s1").finalizeCount(); got != 1 {
		t.Errorf("finalize called %d times, want 1", got)
	}
}

func TestShutdownFinalizesAllSessionsConcurrently(t *testing.T) {
	h := newHarness(slowConfig())

	const k = 5
	for i := 0; i < k; i++ {
		id := string(rune('a' + i))
		h.orch.HandleEvent(ev(hookevent.KindPostToolUse, id, "/tmp/"+id+".jsonl"))
		h.orch.HandleEvent(ev(hookevent.KindPostToolUse, id, "/tmp/"+id+".jsonl"))
	}

	// One session's consumer fails; the others must still finalize.
	h.consumer("c").batchErr = errors.New("batch failed")
	h.consumer("c").finalErr = errors.New("finalize failed")

	err := h.orch.Shutdown(context.Background())
	if err == nil {
		t.Error("expected the failing session's error to surface")
	}

	if ids := h.orch.ActiveSessionIDs(); len(ids) != 0 {
		t.Fatalf("active after shutdown = %v, want none", ids)
	}
	for i := 0; i < k; i++ {
		id := string(rune('a' + i))
		c := h.consumer(id)
		if got := c.finalizeCount(); got != 1 {
			t.Errorf("session %s finalize count = %d, want 1", id, got)
		}
		if id != "c" {
			if got := c.messageCount(); got != 2 {
				t.Errorf("session %s delivered %d messages, want 2", id, got)
			}
		}
	}
	// Every queue is empty after shutdown.
	for _, s := range h.orch.Stats().Sessions {
		if s.Queue.QueueLen != 0 {
			t.Errorf("session %s queue len = %d, want 0", s.ID, s.Queue.QueueLen)
		}
	}
}

func TestConcurrentSessionEndLeavesNoQueuedMessages(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindSessionStart, "s1", "/tmp/t1.jsonl"))

	// Events race the end-of-session: each one is either delivered by the
	// finalize drain or discarded, never left behind in a drained queue.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
		}
	}()
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))
	wg.Wait()

	if got := h.consumer("s1").finalizeCount(); got != 1 {
		t.Errorf("finalize called %d times, want 1", got)
	}
	for _, s := range h.orch.Stats().Sessions {
		if s.Queue.QueueLen != 0 {
			t.Errorf("session %s queue len = %d after end, want 0", s.ID, s.Queue.QueueLen)
		}
	}
}

func TestShutdownThenSessionEndIsNoop(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.Shutdown(context.Background())
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", "/tmp/t1.jsonl"))

	if got := h.consumer("s1").finalizeCount(); got != 1 {
		t.Errorf("finalize called %d times, want 1", got)
	}
}

func TestMostRecentlyActiveSessionID(t *testing.T) {
	h := newHarness(slowConfig())

	if _, ok := h.orch.MostRecentlyActiveSessionID(); ok {
		t.Fatal("expected no session initially")
	}

	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	time.Sleep(5 * time.Millisecond)
	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s2", "/tmp/t2.jsonl"))

	id, ok := h.orch.MostRecentlyActiveSessionID()
	if !ok || id != "s2" {
		t.Errorf("most recent = %q (%v), want s2", id, ok)
	}

	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s2", ""))
	id, ok = h.orch.MostRecentlyActiveSessionID()
	if !ok || id != "s1" {
		t.Errorf("most recent after s2 end = %q (%v), want s1", id, ok)
	}

	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "s1", ""))
	if _, ok := h.orch.MostRecentlyActiveSessionID(); ok {
		t.Error("expected none when all sessions are finalized")
	}
}

func TestDeriveMessageExtractsToolName(t *testing.T) {
	e := ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl")
	e.Payload = json.RawMessage(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`)

	m := deriveMessage(e)
	if m.ToolName != "Bash" {
		t.Errorf("tool name = %q, want Bash", m.ToolName)
	}
	if m.Kind != "PostToolUse" {
		t.Errorf("kind = %q, want PostToolUse", m.Kind)
	}
}

func TestStatsCountsHooksAndMessages(t *testing.T) {
	h := newHarness(slowConfig())

	h.orch.HandleEvent(ev(hookevent.KindSessionStart, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindPostToolUse, "s1", "/tmp/t1.jsonl"))
	h.orch.HandleEvent(ev(hookevent.KindSessionEnd, "unknown", ""))

	st := h.orch.Stats()
	if st.HookCount != 3 {
		t.Errorf("hook count = %d, want 3", st.HookCount)
	}
	if st.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", st.MessageCount)
	}
	if len(st.Sessions) != 1 {
		t.Errorf("sessions in stats = %d, want 1", len(st.Sessions))
	}
}
