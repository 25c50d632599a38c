// Package monitor assembles one running monitor process: the event
// socket, the control socket, the session orchestrator, the analysis
// consumers, and the monitor's registry entry. One monitor owns one
// directory scope for its lifetime.
package monitor

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"scribe/internal/activitylog"
	"scribe/internal/analysis"
	"scribe/internal/batcher"
	"scribe/internal/config"
	"scribe/internal/errcode"
	"scribe/internal/hookevent"
	"scribe/internal/ingest"
	"scribe/internal/orchestrator"
	"scribe/internal/paths"
	"scribe/internal/protocol"
	"scribe/internal/registry"
	"scribe/internal/store"
)

// Options configures a new monitor.
type Options struct {
	ScopeDir  string
	OutputDir string
	Config    *config.Config

	// RegistryPath overrides the shared registry location. Tests use it.
	RegistryPath string
	// EventSocket and ControlSocket override the socket paths. Tests
	// use them; normally they derive from the monitor ID.
	EventSocket   string
	ControlSocket string
}

// Monitor is one running monitor instance.
type Monitor struct {
	ID        string
	ScopeDir  string
	OutputDir string
	StartedAt time.Time

	cfg      *config.Config
	reg      *registry.Registry
	orch     *orchestrator.Orchestrator
	events   *ingest.Server
	control  net.Listener
	ctlPath  string
	store    *store.Store
	activity *activitylog.Logger
	log      *logrus.Entry

	stop     chan struct{}
	stopOnce sync.Once
}

// New prepares a monitor for the given scope. Paths are resolved to
// absolute form; the monitor ID is a fresh short unique token used in
// socket names and the registry.
func New(opts Options) (*Monitor, error) {
	scope, err := filepath.Abs(opts.ScopeDir)
	if err != nil {
		return nil, err
	}
	output, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	if cfg == nil {
		cfg, err = config.Load()
		if err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()[:8]
	regPath := opts.RegistryPath
	if regPath == "" {
		regPath = paths.Registry()
	}
	evPath := opts.EventSocket
	if evPath == "" {
		evPath = paths.EventSocket(id)
	}
	ctlPath := opts.ControlSocket
	if ctlPath == "" {
		ctlPath = paths.ControlSocket(id)
	}

	m := &Monitor{
		ID:        id,
		ScopeDir:  scope,
		OutputDir: output,
		cfg:       cfg,
		reg:       registry.New(regPath),
		ctlPath:   ctlPath,
		log: logrus.WithFields(logrus.Fields{
			"component": "monitor",
			"id":        id,
			"scope":     scope,
		}),
		stop: make(chan struct{}),
	}
	m.events = ingest.New(evPath, m.handleEvent)
	return m, nil
}

// Run starts the monitor and blocks until a stop request, SIGINT or
// SIGTERM arrives, or ctx is canceled. On exit every open session is
// finalized and the registry entry is removed.
func (m *Monitor) Run(ctx context.Context) error {
	m.StartedAt = time.Now()

	if err := os.MkdirAll(m.OutputDir, 0o755); err != nil {
		return err
	}
	if dbPath := m.databasePath(); dbPath != "" {
		s, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		m.store = s
		defer m.store.Close()
	}
	m.activity = activitylog.New(true, filepath.Join(m.OutputDir, "activity.log"), m.ID)
	defer m.activity.Close()

	m.orch = orchestrator.New(batcher.Config{
		BatchSize:     m.cfg.Batching.BatchSize,
		MaxQueueSize:  m.cfg.Batching.MaxQueueSize,
		FlushInterval: m.cfg.Batching.FlushInterval(),
	}, m.consumerFactory)
	m.orch.OnDrop = func(sessionID string, _ analysis.Message) {
		m.activity.Dropped(sessionID, "queue_full", 1)
	}

	// Sockets first, registry second: an entry must never point at a
	// socket that is not yet accepting.
	if err := m.events.Listen(); err != nil {
		return err
	}
	defer m.events.Close()
	if err := m.listenControl(); err != nil {
		return err
	}
	defer func() {
		m.control.Close()
		os.Remove(m.ctlPath)
	}()

	entry := registry.Entry{
		ID:            m.ID,
		ListenAddress: m.events.Addr(),
		ScopeDir:      m.ScopeDir,
		OutputDir:     m.OutputDir,
		OwnerPID:      os.Getpid(),
		StartedAt:     m.StartedAt,
	}
	if err := m.reg.Register(entry); err != nil {
		return err
	}
	defer func() {
		if err := m.reg.Unregister(m.ID); err != nil {
			m.log.WithError(err).Warn("unregister failed")
		}
	}()

	go m.events.Serve()
	go m.serveControl()

	m.activity.MonitorState("starting", "running")
	m.log.WithField("socket", m.events.Addr()).Info("monitor running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-ctx.Done():
	case sig := <-sigs:
		m.log.WithField("signal", sig).Info("shutting down")
	case <-m.stop:
		m.log.Info("stop requested, shutting down")
	}

	m.activity.MonitorState("running", "stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.orch.Shutdown(shutdownCtx); err != nil {
		m.log.WithError(err).Warn("some sessions did not finalize cleanly")
	}
	m.activity.MonitorState("stopping", "stopped")
	return nil
}

// databasePath resolves where the sqlite store lives. "none" disables
// persistence; empty keeps the per-monitor default in the output dir.
func (m *Monitor) databasePath() string {
	switch m.cfg.Database.Path {
	case "none":
		return ""
	case "":
		return filepath.Join(m.OutputDir, "scribe.db")
	default:
		return m.cfg.Database.Path
	}
}

// consumerFactory builds the consumer chain for a new session: the
// sqlite recorder plus the configured analyzer command, if any.
func (m *Monitor) consumerFactory(sessionID, transcriptPath string) analysis.Consumer {
	var consumers []analysis.Consumer
	if m.store != nil {
		consumers = append(consumers, store.NewConsumer(m.store, sessionID, transcriptPath))
	}
	if cmdLine := m.cfg.Analyzer.Command; cmdLine != "" {
		c, err := analysis.NewCommandConsumer(cmdLine, sessionID, transcriptPath)
		if err != nil {
			m.log.WithError(err).Warn("analyzer command unusable, skipping")
		} else {
			consumers = append(consumers, c)
		}
	}
	if len(consumers) == 0 {
		return analysis.NopConsumer{}
	}
	return analysis.NewFanout(consumers...)
}

// handleEvent funnels each parsed hook event into the orchestrator and
// the activity log.
func (m *Monitor) handleEvent(ev hookevent.Event) {
	m.activity.HookEvent(ev.SessionID, string(ev.Kind), hookevent.ToolName(ev.Payload))
	m.orch.HandleEvent(ev)
}

// listenControl binds the control socket, clearing a stale file first.
func (m *Monitor) listenControl() error {
	if _, err := os.Stat(m.ctlPath); err == nil {
		if conn, err := net.DialTimeout("unix", m.ctlPath, 500*time.Millisecond); err == nil {
			conn.Close()
			return errcode.Newf(errcode.SocketBind, "control socket %s is already in use", m.ctlPath)
		}
		os.Remove(m.ctlPath)
	}
	ln, err := net.Listen("unix", m.ctlPath)
	if err != nil {
		return errcode.Wrap(err, errcode.SocketBind, "listen on "+m.ctlPath)
	}
	m.control = ln
	return nil
}

// serveControl answers status and stop requests, one request per
// connection.
func (m *Monitor) serveControl() {
	for {
		conn, err := m.control.Accept()
		if err != nil {
			return
		}
		go m.handleControlConn(conn)
	}
}

func (m *Monitor) handleControlConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	req, err := protocol.ReadRequest(conn)
	if err != nil {
		m.log.WithError(err).Debug("bad control request")
		return
	}

	switch req.Type {
	case protocol.TypeStatus:
		stats := m.orch.Stats()
		protocol.SendResponse(conn, &protocol.Response{
			OK:      true,
			Monitor: m.Info(),
			Stats:   &stats,
		})
	case protocol.TypeStop:
		protocol.SendResponse(conn, &protocol.Response{OK: true})
		m.RequestStop()
	default:
		protocol.SendResponse(conn, &protocol.Response{
			OK:    false,
			Error: "unknown request type: " + req.Type,
		})
	}
}

// Info describes this monitor for status responses.
func (m *Monitor) Info() *protocol.MonitorInfo {
	return &protocol.MonitorInfo{
		ID:        m.ID,
		ScopeDir:  m.ScopeDir,
		OutputDir: m.OutputDir,
		PID:       os.Getpid(),
		StartedAt: m.StartedAt,
		Uptime:    time.Since(m.StartedAt).Round(time.Second).String(),
	}
}

// RequestStop asks a running monitor to shut down. Safe to call more
// than once.
func (m *Monitor) RequestStop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
