package control

import (
	"encoding/gob"
	"errors"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/minisv/minisv/internal/core"
)

// Server accepts control connections on a Unix domain socket and
// forwards each decoded request into a Supervisor via Submit, exactly
// as a request arriving from the signal handler or the core loop's own
// logic would. One connection serves one request-reply round trip,
// mirroring the CLI's own short-lived-process model (spec §6).
type Server struct {
	path string
	ln   net.Listener
	sup  *core.Supervisor
	log  *zap.SugaredLogger
}

// Listen creates the socket at path (removing a stale one left behind
// by an unclean prior exit, the same courtesy the teacher's gosv gives
// its own pidfile) and returns a Server ready to Serve.
func Listen(path string, sup *core.Supervisor, log *zap.SugaredLogger) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	if _, err := os.Stat(path); err == nil {
		// Only a stale socket is removed; one that still accepts
		// connections belongs to a supervisor that is already running.
		if c, err := net.Dial("unix", path); err == nil {
			c.Close()
			return nil, errors.New("control socket already in use: " + path)
		}
		_ = os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{path: path, ln: ln, sup: sup, log: log}, nil
}

// Serve accepts connections until the listener is closed, blocking the
// calling goroutine. It is meant to run on its own goroutine alongside
// Supervisor.Run; each accepted connection is handled on its own
// goroutine, and its single request still reaches the core loop one at
// a time through Submit.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	var env Envelope
	if err := gob.NewDecoder(conn).Decode(&env); err != nil {
		s.log.Warnw("control connection decode failed", "error", err)
		return
	}

	reply := make(chan core.Response, 1)
	s.sup.Submit(core.Request{Kind: env.Kind, Name: env.Name, Level: env.Level, Reply: reply})
	resp := <-reply

	out := ReplyEnvelope{ID: env.ID, Status: resp.Status}
	if resp.Err != nil {
		out.ErrMsg = resp.Err.Error()
	}
	if err := gob.NewEncoder(conn).Encode(&out); err != nil {
		s.log.Warnw("control connection encode failed", "error", err)
	}
}
