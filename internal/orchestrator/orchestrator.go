// Package orchestrator owns the set of sessions known to one monitor
// process. It routes each incoming hook event to the right session,
// creating sessions lazily, and drives every session through its
// Active -> Finalized lifecycle, including coordinated shutdown.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"scribe/internal/analysis"
	"scribe/internal/batcher"
	"scribe/internal/errcode"
	"scribe/internal/hookevent"
)

// Lifecycle is a session's position in its state machine. Finalized is
// terminal: further events are logged and discarded.
type Lifecycle string

const (
	LifecycleActive    Lifecycle = "active"
	LifecycleFinalized Lifecycle = "finalized"
)

// Session tracks one continuous interaction by session ID. Sessions are
// never deleted, only transitioned to Finalized, so late duplicate events
// and statistics queries stay well-defined.
type Session struct {
	ID             string
	TranscriptPath string
	Batcher        *batcher.Batcher
	CreatedAt      time.Time
	LastActivityAt time.Time

	lifecycle Lifecycle
	consumer  analysis.Consumer
}

// Orchestrator routes events to sessions. Safe for concurrent use; one
// ingestion connection goroutine may race another for the same session.
type Orchestrator struct {
	batcherCfg batcher.Config
	factory    analysis.Factory
	log        *logrus.Entry

	// OnDrop, if set before the first event, observes queue evictions
	// across all sessions.
	OnDrop func(sessionID string, msg analysis.Message)

	mu       sync.Mutex
	sessions map[string]*Session

	hookCount         uint64
	messageCount      uint64
	ghostEndsIgnored  uint64
	missingTranscript uint64
}

// New creates an Orchestrator. The factory builds the downstream consumer
// for each session the orchestrator creates.
func New(batcherCfg batcher.Config, factory analysis.Factory) *Orchestrator {
	if factory == nil {
		factory = func(string, string) analysis.Consumer { return analysis.NopConsumer{} }
	}
	return &Orchestrator{
		batcherCfg: batcherCfg,
		factory:    factory,
		log:        logrus.WithField("component", "orchestrator"),
		sessions:   make(map[string]*Session),
	}
}

// HandleEvent routes one hook event. Never returns an error to the
// ingestion path; failures local to one session are logged and isolated.
func (o *Orchestrator) HandleEvent(ev hookevent.Event) {
	o.mu.Lock()
	o.hookCount++
	o.mu.Unlock()

	if ev.Kind == hookevent.KindSessionEnd {
		o.handleSessionEnd(ev)
		return
	}

	o.mu.Lock()
	s, ok := o.sessions[ev.SessionID]
	if ok && s.lifecycle == LifecycleFinalized {
		// Ghost guard: the session already ended; late and duplicate
		// events do not resurrect it.
		o.mu.Unlock()
		o.log.WithFields(logrus.Fields{"session": ev.SessionID, "kind": ev.Kind}).
			Debug("event for finalized session discarded")
		return
	}
	if !ok {
		if ev.TranscriptPath == "" {
			o.missingTranscript++
			o.mu.Unlock()
			o.log.WithError(errcode.Newf(errcode.MissingTranscript,
				"cannot create session %s from %s event", ev.SessionID, ev.Kind)).
				Warn("event dropped")
			return
		}
		s = &Session{
			ID:             ev.SessionID,
			TranscriptPath: ev.TranscriptPath,
			CreatedAt:      time.Now(),
			lifecycle:      LifecycleActive,
			consumer:       o.factory(ev.SessionID, ev.TranscriptPath),
		}
		s.Batcher = batcher.New(o.batcherCfg, s.consumer, s.ID)
		if o.OnDrop != nil {
			id := ev.SessionID
			s.Batcher.OnDrop = func(m analysis.Message) { o.OnDrop(id, m) }
		}
		o.sessions[ev.SessionID] = s
		o.log.WithField("session", ev.SessionID).Info("session created")
	}
	s.LastActivityAt = time.Now()
	o.messageCount++
	// Enqueue before releasing the lock: a concurrent SessionEnd drains
	// and destroys the batcher only after it wins this mutex, so no
	// message can land in an already-drained queue.
	s.Batcher.Enqueue(deriveMessage(ev))
	o.mu.Unlock()
}

// handleSessionEnd finalizes a matching Active session. A SessionEnd for
// an unknown session creates nothing (ghost-session guard); one for an
// already-finalized session is a no-op.
func (o *Orchestrator) handleSessionEnd(ev hookevent.Event) {
	o.mu.Lock()
	s, ok := o.sessions[ev.SessionID]
	if !ok {
		o.ghostEndsIgnored++
		o.mu.Unlock()
		o.log.WithField("session", ev.SessionID).
			Info("SessionEnd for unknown session ignored")
		return
	}
	if s.lifecycle != LifecycleActive {
		o.mu.Unlock()
		o.log.WithField("session", ev.SessionID).
			Debug("duplicate SessionEnd ignored")
		return
	}
	s.lifecycle = LifecycleFinalized
	s.LastActivityAt = time.Now()
	o.mu.Unlock()

	if err := o.finalize(s); err != nil {
		o.log.WithError(err).WithField("session", s.ID).
			Warn("session finalize completed with errors")
	}
}

// finalize drains the batcher, invokes the consumer's finalize hook, and
// stops the flush timer. The lifecycle transition has already happened
// under the lock, so this runs at most once per session.
func (o *Orchestrator) finalize(s *Session) error {
	s.Batcher.FlushAll()
	var err error
	if ferr := s.consumer.Finalize(context.Background()); ferr != nil {
		err = errcode.Wrap(ferr, errcode.ConsumerFailure, "finalize session "+s.ID)
	}
	s.Batcher.Destroy()
	o.log.WithField("session", s.ID).Info("session finalized")
	return err
}

// Shutdown finalizes every still-active session concurrently. A failure
// finalizing one session does not prevent the others from finalizing;
// the first error (if any) is returned for logging.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	var active []*Session
	for _, s := range o.sessions {
		if s.lifecycle == LifecycleActive {
			s.lifecycle = LifecycleFinalized
			active = append(active, s)
		}
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, s := range active {
		s := s
		g.Go(func() error {
			return o.finalize(s)
		})
	}
	return g.Wait()
}

// deriveMessage converts a hook event into the message buffered for the
// analysis consumer.
func deriveMessage(ev hookevent.Event) analysis.Message {
	return analysis.Message{
		SessionID:      ev.SessionID,
		Kind:           string(ev.Kind),
		TranscriptPath: ev.TranscriptPath,
		ToolName:       hookevent.ToolName(ev.Payload),
		Timestamp:      ev.Timestamp,
		Payload:        ev.Payload,
	}
}

// ActiveSessionIDs returns the IDs of all Active sessions.
func (o *Orchestrator) ActiveSessionIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for id, s := range o.sessions {
		if s.lifecycle == LifecycleActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MostRecentlyActiveSessionID returns the Active session with the latest
// activity, or false if every session is finalized.
func (o *Orchestrator) MostRecentlyActiveSessionID() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var best *Session
	for _, s := range o.sessions {
		if s.lifecycle != LifecycleActive {
			continue
		}
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// SessionStats describes one session in a Stats snapshot.
type SessionStats struct {
	ID             string        `json:"id"`
	Lifecycle      Lifecycle     `json:"lifecycle"`
	TranscriptPath string        `json:"transcriptPath"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	Queue          batcher.Stats `json:"queue"`
}

// Stats is a snapshot of per-session counters plus global hook/message
// counts.
type Stats struct {
	Sessions          []SessionStats `json:"sessions"`
	HookCount         uint64         `json:"hookCount"`
	MessageCount      uint64         `json:"messageCount"`
	GhostEndsIgnored  uint64         `json:"ghostEndsIgnored"`
	MissingTranscript uint64         `json:"missingTranscriptDrops"`
}

// Stats returns a snapshot sorted by most recent activity first.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Stats{
		HookCount:         o.hookCount,
		MessageCount:      o.messageCount,
		GhostEndsIgnored:  o.ghostEndsIgnored,
		MissingTranscript: o.missingTranscript,
	}
	for _, s := range o.sessions {
		st.Sessions = append(st.Sessions, SessionStats{
			ID:             s.ID,
			Lifecycle:      s.lifecycle,
			TranscriptPath: s.TranscriptPath,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			Queue:          s.Batcher.Stats(),
		})
	}
	sort.Slice(st.Sessions, func(i, j int) bool {
		return st.Sessions[i].LastActivityAt.After(st.Sessions[j].LastActivityAt)
	})
	return st
}
