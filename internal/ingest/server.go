// Package ingest implements a monitor's event ingestion endpoint: a unix
// socket accepting newline-delimited JSON hook events from short-lived
// hook invocations. Connections are independent; a malformed line on one
// never affects later lines or other connections.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"scribe/internal/errcode"
	"scribe/internal/hookevent"
)

// Handler receives each successfully parsed event.
type Handler func(hookevent.Event)

// Server owns one listening unix socket and the per-connection readers.
type Server struct {
	path    string
	handler Handler
	log     *logrus.Entry

	listener net.Listener
	wg       sync.WaitGroup
	closed   chan struct{}
}

// New creates a Server that will listen on the given socket path.
func New(path string, handler Handler) *Server {
	return &Server{
		path:    path,
		handler: handler,
		log:     logrus.WithField("component", "ingest"),
		closed:  make(chan struct{}),
	}
}

// Listen binds the socket. A leftover socket file from a dead monitor is
// removed; a socket with a live listener is an error (the scope already
// has a monitor). The socket is made world-accessible because hook
// invocations may run under a different effective user.
func (s *Server) Listen() error {
	if err := probeSocket(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return errcode.Wrap(err, errcode.SocketBind, "listen on "+s.path)
	}
	if err := os.Chmod(s.path, 0o666); err != nil {
		ln.Close()
		os.Remove(s.path)
		return errcode.Wrap(err, errcode.SocketBind, "chmod "+s.path)
	}
	s.listener = ln
	return nil
}

// probeSocket checks whether a live listener already owns the path.
// Stale socket files are removed so a restarted monitor can bind.
func probeSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return errcode.Newf(errcode.SocketBind, "socket %s is already in use", path)
	}
	os.Remove(path)
	return nil
}

// Serve accepts connections until Close. One goroutine per connection.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.log.WithError(err).Debug("accept failed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn reads newline-delimited events. The buffered reader
// reassembles lines split across writes; ReadBytes returns a fragment
// only together with an error, so the trailing unterminated fragment at
// connection end is parsed once more, best effort, before being dropped.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.WithError(err).Debug("connection read failed")
			}
			if len(line) > 0 {
				s.dispatch(line)
			}
			return
		}
		s.dispatch(line)
	}
}

// dispatch parses one line and hands the event to the handler. Blank
// lines are ignored; malformed lines are skipped with a diagnostic.
func (s *Server) dispatch(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	ev, err := hookevent.Parse(line)
	if err != nil {
		s.log.WithError(errcode.Wrap(err, errcode.ParseError, "event line skipped")).
			Warn("malformed event")
		return
	}
	s.handler(ev)
}

// Addr returns the socket path the server is bound to.
func (s *Server) Addr() string {
	return s.path
}

// Close stops accepting, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Close() {
	close(s.closed)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
}
